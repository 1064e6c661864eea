package cli

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/cortex-brain/internal/brain"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a brain package",
		Long:  "Verify a package's signature and checksum and install it as a new brain. --verify-only checks the package without decrypting or writing anything.",
		Args:  cobra.ExactArgs(1),
		Run:   runImport,
	}

	cmd.Flags().Bool("verify-only", false, "Only verify the package")
	cmd.Flags().String("name", "", "Rename the imported brain")
	cmd.Flags().String("secret-env", "", "Env var holding the passphrase (default: the package's own)")
	cmd.Flags().String("trusted-key", "", "Base64 Ed25519 public key the package must be signed with")

	brainCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	verifyOnly, _ := cmd.Flags().GetBool("verify-only")
	name, _ := cmd.Flags().GetString("name")
	secretEnv, _ := cmd.Flags().GetString("secret-env")
	trusted, _ := cmd.Flags().GetString("trusted-key")

	p := brain.ImportParams{
		VerifyOnly: verifyOnly,
		Name:       name,
		Actor:      cfg.Brain.Actor,
	}
	if trusted != "" {
		key, err := base64.StdEncoding.DecodeString(trusted)
		if err != nil || len(key) != ed25519.PublicKeySize {
			exitErr("import", fmt.Errorf("trusted key must be a base64 Ed25519 public key"))
		}
		p.TrustedPublicKey = ed25519.PublicKey(key)
	}

	s := openBrainStore()
	if !verifyOnly {
		if secretEnv == "" {
			pkg, err := brain.ReadPackage(args[0])
			if err != nil {
				exitErr("import", err)
			}
			secretEnv = pkg.Manifest.SecretEnv
		}
		p.Passphrase = passphrase(secretEnv)
	}

	res, err := s.Import(cmd.Context(), args[0], p)
	if err != nil {
		exitErr("import", err)
	}
	printJSON(cmd, res)
}
