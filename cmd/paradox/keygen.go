package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const minSecretBytes = 32

type signingKey struct {
	KeyID  string
	Secret string
}

// generateKey returns a random signing secret and a fresh key id.
func generateKey(r io.Reader, size int, encoding string) (signingKey, error) {
	if size < minSecretBytes {
		return signingKey{}, fmt.Errorf("secret must be at least %d bytes, got %d", minSecretBytes, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return signingKey{}, fmt.Errorf("read random: %w", err)
	}

	var secret string
	switch encoding {
	case "base64":
		secret = base64.RawURLEncoding.EncodeToString(buf)
	case "hex":
		secret = hex.EncodeToString(buf)
	default:
		return signingKey{}, fmt.Errorf("unknown encoding %q", encoding)
	}
	return signingKey{KeyID: uuid.NewString(), Secret: secret}, nil
}

func newKeygenCmd() *cobra.Command {
	var (
		size     int
		encoding string
		env      bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a token signing secret and key id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := generateKey(rand.Reader, size, encoding)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if env {
				fmt.Fprintf(out, "PARADOX_SECRET_KEY=%s\n", key.Secret)
				return nil
			}
			fmt.Fprintf(out, "token:\n  key_id: %s\n  secret: %s\n", key.KeyID, key.Secret)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "bytes", 48, "secret length in random bytes")
	cmd.Flags().StringVar(&encoding, "encoding", "base64", "secret encoding (base64, hex)")
	cmd.Flags().BoolVar(&env, "env", false, "print as an environment assignment")
	return cmd
}
