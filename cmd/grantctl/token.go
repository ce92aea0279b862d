package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	oauth "github.com/giantswarm/oidc-grants"
	"github.com/giantswarm/oidc-grants/keys"
)

type issueOptions struct {
	engineOptions
	clientID     string
	clientSecret string
	grantType    string
	scope        string
	params       []string
}

func newIssueCommand(global *globalOptions) *cobra.Command {
	opts := &issueOptions{}
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Run a token request against an in-process engine and print the response",
		Long: `Runs a token request against an engine built from the given files,
without starting a server. Useful to check client and scope configuration.

  grantctl issue --clients clients.yaml --issuer https://localhost:5000 \
    --client client --client-secret secret --scope "api1 api2"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := global.logger()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			e, err := buildEngine(ctx, &opts.engineOptions, logger)
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			params, err := opts.form()
			if err != nil {
				return err
			}

			client, err := e.server.AuthenticateClient(ctx, opts.clientID, opts.clientSecret)
			if err != nil {
				return describe(err)
			}
			resp, err := e.server.ProcessTokenRequest(ctx, params, client)
			if err != nil {
				return describe(err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	opts.register(cmd)
	f := cmd.Flags()
	f.StringVar(&opts.clientID, "client", "", "Client id (required)")
	f.StringVar(&opts.clientSecret, "client-secret", os.Getenv("GRANTCTL_CLIENT_SECRET"), "Client secret (env GRANTCTL_CLIENT_SECRET)")
	f.StringVar(&opts.grantType, "grant-type", "client_credentials", "Grant type")
	f.StringVar(&opts.scope, "scope", "", "Space separated scopes")
	f.StringArrayVar(&opts.params, "param", nil, "Additional form parameter as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func (o *issueOptions) form() (url.Values, error) {
	params := url.Values{"grant_type": {o.grantType}}
	if o.scope != "" {
		params.Set("scope", o.scope)
	}
	for _, p := range o.params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", p)
		}
		params.Add(key, value)
	}
	return params, nil
}

// describe turns an engine error into its OAuth error code for the terminal.
func describe(err error) error {
	oe := oauth.FromError(err)
	if oe.Code == oauth.ErrorCodeServerError {
		return err
	}
	if oe.Description == "" {
		return errors.New(oe.Code)
	}
	return fmt.Errorf("%s: %s", oe.Code, oe.Description)
}

// ============================================================
// inspect / verify
// ============================================================

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [token]",
		Short: "Decode a JWT without verifying it; reads stdin when no token is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := argOrStdin(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			claims := jwt.MapClaims{}
			tok, _, err := jwt.NewParser().ParseUnverified(raw, claims)
			if err != nil {
				return fmt.Errorf("failed to decode token: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"header": tok.Header,
				"claims": claims,
			})
		},
	}
}

type verifyOptions struct {
	keyPath  string
	issuer   string
	audience string
}

func newVerifyCommand() *cobra.Command {
	opts := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify [token]",
		Short: "Verify a JWT signature and lifetime against an RSA key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := argOrStdin(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			key, err := loadVerificationKey(opts.keyPath)
			if err != nil {
				return err
			}

			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{keys.AlgorithmRS256}),
				jwt.WithExpirationRequired(),
			}
			if opts.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(opts.issuer))
			}
			if opts.audience != "" {
				parserOpts = append(parserOpts, jwt.WithAudience(opts.audience))
			}

			claims := jwt.MapClaims{}
			_, err = jwt.NewParser(parserOpts...).ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if kid, _ := t.Header["kid"].(string); kid != "" && kid != key.ID {
					return nil, fmt.Errorf("token signed by unknown key %q", kid)
				}
				return key.PublicKey, nil
			})
			if err != nil {
				return fmt.Errorf("token is invalid: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), claims)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.keyPath, "key", "", "RSA public or private key (PEM, required)")
	f.StringVar(&opts.issuer, "issuer", "", "Expected issuer")
	f.StringVar(&opts.audience, "audience", "", "Expected audience")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// loadVerificationKey accepts a public key, a certificate or a private key.
func loadVerificationKey(path string) (*keys.Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	if key, err := keys.ParsePublicKeyPEM(data, time.Now()); err == nil {
		return key, nil
	}
	return keys.ParsePrivateKeyPEM(data, time.Now())
}

func argOrStdin(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", errors.New("no input given")
	}
	return raw, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
