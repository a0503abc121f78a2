// Package storage provides content-addressed blob storage with pluggable
// backends, used by the confidential backend to persist sealed ciphertext
// chunks and bookkeeping records.
//
// Backends are specified by URI:
//
//   - file:///var/lib/recovery/sealed/
//   - memory://
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://ipfs.example.com:5001/
//   - vault://vault.example.com:8200/secret/recovery?token=...
//
// Content is addressed by its SHA-256 hash; sealed chunks and records live in
// separate namespaces. A multi-backend replicates stores across all configured
// backends and serves fetches from the first one holding the content.
package storage
