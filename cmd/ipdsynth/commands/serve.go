package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/inferloop/ipdsynth/internal/server"
)

type ServeOptions struct {
	Addr string
}

func NewServeCmd(global *GlobalOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve synthetic draws from the stored bundle over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), global, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, global *GlobalOptions, opts *ServeOptions) error {
	env, err := loadEnvironment(global)
	if err != nil {
		return err
	}
	addr := env.config.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	store, err := env.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.NewServer(&server.Config{Addr: addr, Workers: env.config.Workers, SmallCell: env.config.Disclosure.SmallCell},
		store, env.config.Schema, env.logger, env.metrics)
	if err != nil {
		return err
	}
	if err := srv.Reload(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		env.logger.Info("Shutdown signal received")
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		env.logger.WithError(err).Error("Server shutdown failed")
		return err
	}
	return <-errCh
}
