// The admin command drives the recovery service API from the command line,
// for both the secret owner and guardians.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/tee-secret-recovery-backend/api/clients"
	"github.com/ruteri/tee-secret-recovery-backend/cmd/flags"
	"github.com/ruteri/tee-secret-recovery-backend/cryptoutils"
	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

var clientFlags = []cli.Flag{
	flags.ServerAddrFlag,
	flags.PrivateKeyFlag,
}

func main() {
	app := &cli.App{
		Name:  "admin",
		Usage: "Interact with the guardian threshold secret recovery service",
		Commands: []*cli.Command{
			{
				Name:      "store",
				Usage:     "Store a new secret version (owner only)",
				ArgsUsage: "<chunk-file> <chunk-file> <chunk-file> <chunk-file>",
				Flags:     clientFlags,
				Action:    func(cCtx *cli.Context) error { return runIngest(cCtx, false) },
			},
			{
				Name:      "rotate",
				Usage:     "Store a new secret version and clear any recovery request (owner only)",
				ArgsUsage: "<chunk-file> <chunk-file> <chunk-file> <chunk-file>",
				Flags:     clientFlags,
				Action:    func(cCtx *cli.Context) error { return runIngest(cCtx, true) },
			},
			{
				Name:      "grant",
				Usage:     "Grant standing decryption rights to an identity (owner only)",
				ArgsUsage: "<identity>",
				Flags:     clientFlags,
				Action:    runGrant,
			},
			{
				Name:      "propose",
				Usage:     "Propose a recovery naming an identity (guardian only)",
				ArgsUsage: "<identity>",
				Flags:     clientFlags,
				Action:    runPropose,
			},
			{
				Name:      "approve",
				Usage:     "Approve the recovery request with the given id (guardian only)",
				ArgsUsage: "<request-id>",
				Flags:     clientFlags,
				Action:    runApprove,
			},
			{
				Name:   "status",
				Usage:  "Show the current recovery request and secret version",
				Flags:  clientFlags,
				Action: runStatus,
			},
			{
				Name:   "secret",
				Usage:  "Show the current secret version and chunk handles",
				Flags:  clientFlags,
				Action: runSecret,
			},
			{
				Name:      "guardian",
				Usage:     "Show guardian membership and approval state for an identity",
				ArgsUsage: "<identity>",
				Flags:     clientFlags,
				Action:    runGuardian,
			},
			{
				Name:   "identity",
				Usage:  "Print the identity controlled by the configured private key",
				Flags:  clientFlags,
				Action: runIdentity,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) (*clients.RecoveryClient, error) {
	keyHex := cCtx.String(flags.PrivateKeyFlag.Name)
	if keyHex == "" {
		return clients.NewRecoveryClient(cCtx.String(flags.ServerAddrFlag.Name), nil), nil
	}

	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return clients.NewRecoveryClient(cCtx.String(flags.ServerAddrFlag.Name), key), nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runIngest(cCtx *cli.Context, rotate bool) error {
	if cCtx.NArg() != interfaces.NumChunks {
		return fmt.Errorf("expected %d chunk files, got %d", interfaces.NumChunks, cCtx.NArg())
	}

	var chunks [interfaces.NumChunks][]byte
	proofs := make([][]byte, 0, interfaces.NumChunks)
	for i := 0; i < interfaces.NumChunks; i++ {
		data, err := os.ReadFile(cCtx.Args().Get(i))
		if err != nil {
			return fmt.Errorf("could not read chunk %d: %w", i, err)
		}
		certified := cryptoutils.CertifyChunk(data)
		chunks[i] = certified.Ciphertext
		proofs = append(proofs, certified.Proof)
	}

	client, err := newClient(cCtx)
	if err != nil {
		return err
	}

	var version uint64
	if rotate {
		version, err = client.RotateSecret(cCtx.Context, chunks, proofs)
	} else {
		version, err = client.StoreSecret(cCtx.Context, chunks, proofs)
	}
	if err != nil {
		return err
	}

	fmt.Printf("stored secret version %d\n", version)
	return nil
}

func runGrant(cCtx *cli.Context) error {
	grantee, err := interfaces.NewIdentityFromHex(cCtx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}

	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	if err := client.GrantDecryptionRights(cCtx.Context, grantee); err != nil {
		return err
	}

	fmt.Printf("granted decryption rights to %s\n", grantee.String())
	return nil
}

func runPropose(cCtx *cli.Context) error {
	proposed, err := interfaces.NewIdentityFromHex(cCtx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}

	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	id, err := client.ProposeRecovery(cCtx.Context, proposed)
	if err != nil {
		return err
	}

	fmt.Printf("proposed recovery request %d for %s\n", id, proposed.String())
	return nil
}

func runApprove(cCtx *cli.Context) error {
	var requestID uint64
	if _, err := fmt.Sscanf(cCtx.Args().First(), "%d", &requestID); err != nil {
		return fmt.Errorf("invalid request id %q: %w", cCtx.Args().First(), err)
	}

	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	res, err := client.ApproveRecovery(cCtx.Context, requestID)
	if err != nil {
		return err
	}

	if res.Executed {
		fmt.Printf("approval %d executed the request - access granted\n", res.ApprovalCount)
	} else {
		fmt.Printf("approval recorded, %d so far\n", res.ApprovalCount)
	}
	return nil
}

func runStatus(cCtx *cli.Context) error {
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	status, err := client.Status(cCtx.Context)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func runSecret(cCtx *cli.Context) error {
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	secret, err := client.GetSecret(cCtx.Context)
	if err != nil {
		return err
	}
	return printJSON(secret)
}

func runGuardian(cCtx *cli.Context) error {
	identity, err := interfaces.NewIdentityFromHex(cCtx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}

	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	resp, err := client.Guardian(cCtx.Context, identity)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runIdentity(cCtx *cli.Context) error {
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	identity, err := client.Identity()
	if err != nil {
		return err
	}

	fmt.Println(identity.String())
	return nil
}
