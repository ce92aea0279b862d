package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	oauth "github.com/giantswarm/oidc-grants"
	"github.com/giantswarm/oidc-grants/keys"
)

const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	engineOptions
	listen string
	prefix string
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the token, introspection and revocation endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := global.logger()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, logger)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&opts.listen, "listen", ":5000", "Listen address")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "/connect", "Path prefix of the endpoints")
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions, logger *slog.Logger) error {
	e, err := buildEngine(ctx, &opts.engineOptions, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		e.Close(shutdownCtx)
	}()

	mux := http.NewServeMux()
	oauth.NewHandler(e.server, logger).RegisterRoutes(mux, opts.prefix)
	mux.Handle("/.well-known/jwks", jwksHandler(e.keyring, logger))

	srv := &http.Server{
		Addr:              opts.listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving token endpoints",
			"addr", opts.listen,
			"prefix", opts.prefix,
			"issuer", e.server.Config.Issuer)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// jwksHandler publishes the validation keys so resource servers can verify
// self-contained access tokens.
func jwksHandler(keyring *keys.Keyring, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		set, err := keyring.JWKS(r.Context())
		if err != nil {
			logger.Error("Failed to load key set", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=300")
		_ = json.NewEncoder(w).Encode(set)
	})
}
