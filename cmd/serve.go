package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/qmx/internal/server"
	"github.com/desertthunder/qmx/internal/services"
	"github.com/urfave/cli/v3"
)

// Serve runs the HTTP login server until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.Server
	if host := cmd.String("host"); host != "" {
		cfg.Host = host
	}
	if port := cmd.Int("port"); port != 0 {
		cfg.Port = port
	}

	db, creds, _, err := r.stores()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return services.Scope(ctx, r.sessionOpts(nil), func(ctx context.Context, sess *services.Session) error {
		handler := server.NewLoginHandler(server.LoginHandlerOpts{
			NewFlow: r.flowFor,
			Store:   creds,
			Session: sess,
			Logger:  r.logger,
		})
		defer handler.Close()

		srv := server.New(cfg, r.router(handler), r.logger)
		r.logger.Info("starting login server", "addr", srv.Addr())
		if err := srv.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
}

// router mounts the login handler and a health check behind request logging.
func (r *Runner) router(h server.Handler) *server.BasicRouter {
	router := server.NewBasicRouter()
	router.Use(server.RequestLogger(r.logger))
	router.Handle(http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}` + "\n"))
	}))
	router.Handler(h)
	return router
}
