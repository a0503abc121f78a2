package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// VaultBackend stores blobs in HashiCorp Vault's KV v2 secrets engine.
// Blobs are base64-encoded under a per-type path below the configured data
// path.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault backend using token authentication.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "recovery")
//   - token: Vault token with read/write access below dataPath
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

func (b *VaultBackend) secretPath(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return fmt.Sprintf("%s/data/%s/%s/%s", b.mountPath, b.dataPath, contentType.String(), id.String())
}

// Fetch retrieves a blob by content ID and type.
func (b *VaultBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.secretPath(id, contentType))
	if err != nil {
		return nil, fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrContentNotFound
	}

	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	encoded, ok := inner["content"].(string)
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored content: %w", err)
	}

	b.log.Debug("Fetched content from Vault", slog.String("contentID", id.String()), slog.Int("size", len(data)))
	return data, nil
}

// Store saves a blob and returns its content ID.
func (b *VaultBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	_, err := b.client.Logical().WriteWithContext(ctx, b.secretPath(id, contentType), map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(data),
		},
	})
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("failed to write to Vault: %w", err)
	}

	b.log.Debug("Stored content in Vault", slog.String("contentID", id.String()), slog.Int("size", len(data)))
	return id, nil
}

// Available checks that the Vault server is reachable and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	return err == nil && health.Initialized && !health.Sealed
}

// Name returns an identifier for logging.
func (b *VaultBackend) Name() string {
	return "vault"
}

// LocationURI returns the URI identifying this backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}
