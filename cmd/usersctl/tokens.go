package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newTokensCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Maintain one-time tokens",
	}
	cmd.AddCommand(newSweepCmd(a))
	return cmd
}

func newSweepCmd(a *app) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired reset and confirmation tokens",
		Long: `Delete expired tokens once, or repeatedly with --every until interrupted.
When metrics are enabled a repeating sweep also serves /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			sweep := func() error {
				n, err := rt.svc.Tokens().Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired tokens\n", n)
				return nil
			}
			if every <= 0 {
				return sweep()
			}

			if rt.registry != nil {
				srv := &http.Server{
					Addr:              a.cfg.Metrics.Addr,
					Handler:           promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server failed", "addr", srv.Addr, "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				if err := sweep(); err != nil {
					a.logger.Error("token sweep failed", "error", err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat the sweep at this interval")
	return cmd
}
