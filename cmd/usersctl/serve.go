package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/panyam/userauth/httpauth"
	"github.com/panyam/userauth/social"
)

// newHandler builds the auth routes for rt, plus /metrics when a registry is wired
func (a *app) newHandler(rt *runtime) http.Handler {
	local := &httpauth.LocalAuth{
		Service:      rt.svc,
		CookieName:   httpauth.DefaultSessionCookie,
		CookieSecure: a.cfg.HTTP.CookieSecure,
		Logger:       a.logger,
	}
	routes := &httpauth.Routes{
		Local:      local,
		Middleware: &httpauth.Middleware{Service: rt.svc, LoginURL: a.cfg.HTTP.LoginURL},
	}
	if a.cfg.Auth.Social.Enabled {
		routes.Social = &social.Flow{
			Service:   rt.svc,
			Providers: social.NewProviders(a.cfg.Auth.Social),
			Logger:    a.logger,
		}
	}

	mux := http.NewServeMux()
	routes.Register(mux)
	if rt.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the login, signup and password endpoints over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           a.newHandler(rt),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("serving auth endpoints", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default http.addr from config)")
	return cmd
}
