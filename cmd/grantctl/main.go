// Command grantctl runs and operates the token engine: it serves the token,
// introspection and revocation endpoints, manages signing keys, hashes
// secrets and issues or inspects tokens offline.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

type globalOptions struct {
	logLevel  string
	logFormat string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "grantctl",
		Short:         "OAuth2 and OpenID Connect token engine",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text|json")

	root.AddCommand(
		newServeCommand(opts),
		newIssueCommand(opts),
		newKeygenCommand(),
		newJWKSCommand(),
		newInspectCommand(),
		newVerifyCommand(),
		newHashSecretCommand(),
	)
	return root
}

// logger builds the slog logger selected by the global flags. Logs go to
// stderr so command output stays machine readable.
func (o *globalOptions) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", o.logLevel)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(o.logFormat) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", o.logFormat)
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
