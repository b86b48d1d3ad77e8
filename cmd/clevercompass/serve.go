package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/PabloGalante/clevercompass/internal/adapters/http"
	"github.com/PabloGalante/clevercompass/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			observability.Init(cfg.LogLevel, os.Stdout)
			log := observability.Logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := d.Close(); err != nil {
					log.Warn("shutdown", "error", err)
				}
			}()

			srv := &http.Server{
				Addr: ":" + cfg.Port,
				Handler: httpadapter.NewServer(d.svc, httpadapter.Options{
					RateLimitRPS:   cfg.RateLimitRPS,
					RateLimitBurst: cfg.RateLimitBurst,
				}),
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return ctx },
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("clevercompass API listening", "port", cfg.Port, "mode", cfg.Mode)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			})

			return g.Wait()
		},
	}
}
