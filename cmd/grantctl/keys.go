package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oidc-grants/keys"
	"github.com/giantswarm/oidc-grants/storage"
)

func newKeygenCommand() *cobra.Command {
	var (
		out       string
		publicOut string
		bits      int
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := keys.GenerateKey(bits, time.Now())
			if err != nil {
				return err
			}

			privPEM, err := keys.EncodePrivateKeyPEM(key.PrivateKey)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, privPEM, 0o600); err != nil {
				return fmt.Errorf("failed to write private key: %w", err)
			}

			if publicOut != "" {
				pubPEM, err := keys.EncodePublicKeyPEM(key.PublicKey)
				if err != nil {
					return err
				}
				if err := os.WriteFile(publicOut, pubPEM, 0o644); err != nil {
					return fmt.Errorf("failed to write public key: %w", err)
				}
			}

			return printJSON(cmd.OutOrStdout(), key.JWK())
		},
	}
	f := cmd.Flags()
	f.StringVar(&out, "out", "signing-key.pem", "Private key output file")
	f.StringVar(&publicOut, "public-out", "", "Optional public key output file")
	f.IntVar(&bits, "bits", keys.DefaultKeySize, "RSA key size in bits")
	return cmd
}

func newJWKSCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jwks key.pem...",
		Short: "Print the JWK set of one or more RSA keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set := keys.JSONWebKeySet{Keys: []keys.JSONWebKey{}}
			for _, path := range args {
				key, err := loadVerificationKey(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				set.Keys = append(set.Keys, key.JWK())
			}
			return printJSON(cmd.OutOrStdout(), set)
		},
	}
}

func newHashSecretCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print the bcrypt hash of a client or scope secret; reads stdin when no secret is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plaintext, err := argOrStdin(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			secret, err := storage.HashSecret(plaintext)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), secret.Value)
			return err
		},
	}
}
