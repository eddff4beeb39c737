package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	var (
		method string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a JWT signing secret or ed25519 key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch method {
			case "hs256":
				return writeSecret(cmd.OutOrStdout())
			case "ed25519":
				return writeKeyPair(cmd.OutOrStdout(), outDir)
			default:
				return fmt.Errorf("unsupported signing method %q", method)
			}
		},
	}
	cmd.Flags().StringVar(&method, "method", "hs256", "hs256 or ed25519")
	cmd.Flags().StringVar(&outDir, "out", ".", "directory for ed25519 PEM files")
	return cmd
}

func writeSecret(w io.Writer) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "AUTHKIT_JWT_SECRET=%s\n", hex.EncodeToString(secret))
	return err
}

func writeKeyPair(w io.Writer, dir string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return err
	}

	privPath := filepath.Join(dir, "jwt-ed25519.pem")
	pubPath := filepath.Join(dir, "jwt-ed25519.pub.pem")
	if err := os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644); err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "AUTHKIT_JWT_SIGNING_METHOD=ed25519\nAUTHKIT_JWT_PRIVATE_KEY_FILE=%s\nAUTHKIT_JWT_PUBLIC_KEY_FILE=%s\n", privPath, pubPath)
	return err
}
