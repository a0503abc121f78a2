// The recoveryserver command serves the guardian threshold recovery API.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/tee-secret-recovery-backend/accesscontrol"
	"github.com/ruteri/tee-secret-recovery-backend/audit"
	"github.com/ruteri/tee-secret-recovery-backend/cmd/flags"
	"github.com/ruteri/tee-secret-recovery-backend/confidential"
	"github.com/ruteri/tee-secret-recovery-backend/guardians"
	"github.com/ruteri/tee-secret-recovery-backend/httpserver"
	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
	"github.com/ruteri/tee-secret-recovery-backend/recovery"
	"github.com/ruteri/tee-secret-recovery-backend/secretstore"
	"github.com/ruteri/tee-secret-recovery-backend/storage"
)

var serverFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.MetricsAddrFlag,
	&cli.StringFlag{
		Name:     "owner",
		Required: true,
		Usage:    "identity of the secret owner, 40-char hex with optional 0x prefix",
	},
	&cli.StringSliceFlag{
		Name:     "guardian",
		Required: true,
		Usage:    "guardian identity, repeat once per guardian",
	},
	&cli.IntFlag{
		Name:     "threshold",
		Required: true,
		Usage:    "number of distinct guardian approvals required to execute a recovery",
	},
	&cli.StringFlag{
		Name:     "enclave-master-key",
		Required: true,
		Usage:    "hex-encoded 32-byte master key for the confidential backend",
	},
	&cli.StringSliceFlag{
		Name:  "storage-uri",
		Value: cli.NewStringSlice("memory://"),
		Usage: "sealed chunk storage backend URI, repeat for redundant backends",
	},
	&cli.StringFlag{
		Name:  "audit-log",
		Value: "",
		Usage: "path to the JSONL audit log; empty disables audit recording",
	},
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}, flags.LoggingFlags...)

func main() {
	app := &cli.App{
		Name:   "recoveryserver",
		Usage:  "Serve the guardian threshold secret recovery API",
		Flags:  serverFlags,
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	owner, err := interfaces.NewIdentityFromHex(cCtx.String("owner"))
	if err != nil {
		logger.Error("Invalid owner identity", "err", err)
		return err
	}

	var guardianList []interfaces.Identity
	for _, raw := range cCtx.StringSlice("guardian") {
		guardian, err := interfaces.NewIdentityFromHex(raw)
		if err != nil {
			logger.Error("Invalid guardian identity", "identity", raw, "err", err)
			return err
		}
		guardianList = append(guardianList, guardian)
	}

	registry, err := guardians.NewRegistry(guardianList, cCtx.Int("threshold"))
	if err != nil {
		logger.Error("Invalid guardian configuration", "err", err)
		return err
	}

	masterKey, err := hex.DecodeString(cCtx.String("enclave-master-key"))
	if err != nil || len(masterKey) != 32 {
		logger.Error("Invalid enclave-master-key - must be 64 hex chars (32 bytes)", "err", err)
		return errors.New("invalid enclave-master-key")
	}

	var locations []interfaces.StorageBackendLocation
	for _, uri := range cCtx.StringSlice("storage-uri") {
		locations = append(locations, interfaces.StorageBackendLocation(uri))
	}
	backend, err := storage.NewFactory(logger).CreateMultiBackend(locations)
	if err != nil {
		logger.Error("Failed to create storage backends", "err", err)
		return err
	}

	enclave, err := confidential.NewSimpleEnclave(masterKey, backend, logger)
	if err != nil {
		logger.Error("Failed to create confidential backend", "err", err)
		return err
	}

	var events audit.Sink
	if path := cCtx.String("audit-log"); path != "" {
		sink, err := audit.NewJSONLSink(path)
		if err != nil {
			logger.Error("Failed to open audit log", "path", path, "err", err)
			return err
		}
		defer sink.Close()
		events = sink
	}

	// The service principal holding standing access to ingested chunks is
	// derived from the enclave master key.
	var self interfaces.Identity
	copy(self[:], crypto.Keccak256(append([]byte("recovery-service:"), masterKey...))[12:])

	secrets := secretstore.New(enclave, self, logger)
	machine := recovery.NewMachine(registry)
	controller := accesscontrol.NewController(interfaces.FixedOwner{Identity: owner}, registry, machine, secrets, events, logger)

	cfg := flags.ConfigureServer(cCtx, logger)
	server, err := httpserver.New(cfg, httpserver.NewHandler(controller, logger))
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting recovery service",
		"owner", owner.String(),
		"guardians", registry.Len(),
		"threshold", registry.Threshold(),
		"storage", backend.Name())
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit

	fmt.Println("")
	logger.Info("Shutting down")
	server.Shutdown()
	return nil
}
