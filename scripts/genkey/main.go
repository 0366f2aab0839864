// genkey generates an Ed25519 key pair for Solace JWT signing, and the
// operator API key exchanged at /auth/token for an admin token.
//
// Usage (run from the repo root):
//
//	go run ./scripts/genkey                 # JWT key pair in data/
//	go run ./scripts/genkey --dir keys      # JWT key pair in keys/
//	go run ./scripts/genkey --admin-key     # new random operator key + hash
//	go run ./scripts/genkey --hash <key>    # hash an existing operator key
//
// Writes:
//
//	data/jwt_private.pem  (mode 0600, keep this secret)
//	data/jwt_public.pem   (mode 0600)
//
// The server generates ephemeral keys when SOLACE_JWT_PRIVATE_KEY is unset,
// but those are discarded on every restart, invalidating every admin token
// it issued. Persistent keys prevent that.
//
// The hash printed by --admin-key and --hash goes into
// SOLACE_ADMIN_API_KEY_HASH; the plaintext key is shown once and never stored.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/solacehq/solace/internal/auth"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		adminKey bool
		hashKey  string
		dir      string
	)
	cmd := &cobra.Command{
		Use:           "genkey",
		Short:         "Generate JWT signing keys and operator API keys",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch {
			case adminKey:
				return newAdminKey(out)
			case hashKey != "":
				return printHash(out, hashKey)
			}
			return writeKeyPair(out, dir)
		},
	}
	cmd.Flags().BoolVar(&adminKey, "admin-key", false, "generate a random operator API key and print it with its hash")
	cmd.Flags().StringVar(&hashKey, "hash", "", "print the hash of an existing operator API key")
	cmd.Flags().StringVar(&dir, "dir", "data", "directory for the JWT key pair")
	cmd.MarkFlagsMutuallyExclusive("admin-key", "hash")
	return cmd
}

func newAdminKey(out io.Writer) error {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	key := "sk_solace_" + base64.RawURLEncoding.EncodeToString(raw)
	if err := printHash(out, key); err != nil {
		return err
	}
	fmt.Fprintf(out, "SOLACE_ADMIN_API_KEY=%s\n", key)
	fmt.Fprintln(out, "Store the key somewhere safe; only the hash goes into the server environment.")
	return nil
}

func printHash(out io.Writer, key string) error {
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Fprintf(out, "SOLACE_ADMIN_API_KEY_HASH=%s\n", hash)
	return nil
}

func writeKeyPair(out io.Writer, dir string) error {
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// Never overwrite existing keys: rotating them invalidates every
	// live token.
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; delete it first if you want to rotate keys", path)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		return err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	if err := writePEM(pubPath, "PUBLIC KEY", pubDER); err != nil {
		return err
	}

	fmt.Fprintf(out, "wrote %s\n", privPath)
	fmt.Fprintf(out, "wrote %s\n", pubPath)
	fmt.Fprintln(out, "Set SOLACE_JWT_PRIVATE_KEY and SOLACE_JWT_PUBLIC_KEY to these paths.")
	return nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
