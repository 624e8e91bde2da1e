package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/execution-probe/internal/fakeapi"
)

func newFakeAPICmd(opts *rootOptions) *cobra.Command {
	var (
		addr             string
		requireAuthToken bool
	)
	cmd := &cobra.Command{
		Use:   "fakeapi",
		Short: "Serve an emulated execution API for local runs",
		Long: `Serves the configured target execution under /api and /graphql so that
"extract" can run locally with api.base_url=http://<addr>/api.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.load()
			if err != nil {
				return err
			}
			defer rt.close()

			fixture := fakeapi.DemoFixture(rt.cfg.Identifiers(), rt.cfg.API.Token)
			fixture.RequireAuthToken = requireAuthToken
			logger := rt.logger.Named("fakeapi")
			srv := &http.Server{
				Addr:              addr,
				Handler:           fakeapi.NewServer(fixture, logger).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return serve(cmd.Context(), srv, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8089", "listen address")
	cmd.Flags().BoolVar(&requireAuthToken, "require-auth-token", false, "reject requests without the X-Auth-Token header")
	return cmd
}

// serve runs srv until ctx ends, then drains it.
func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake api listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("fake api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown fake api: %w", err)
	}
	logger.Info("fake api stopped")
	return nil
}
