// Command server runs the development game server: rooms, the active-rooms
// listing and the Socket.IO endpoint the client connects to.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/storycards/internal/config"
	"github.com/DoyleJ11/storycards/internal/httpapi"
	"github.com/DoyleJ11/storycards/internal/hub"
	"github.com/DoyleJ11/storycards/internal/lobby"
	"github.com/DoyleJ11/storycards/internal/ws"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	cfg := &config.Server{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func newCmd(cfg *config.Server) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "storycards-server",
		Short:         "Development server for the storycards game protocol.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(""); err != nil {
				return err
			}
			if err := config.ApplyEnv(cmd.Flags()); err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	config.RegisterServerFlags(cmd.Flags(), cfg)
	cmd.CompletionOptions.HiddenDefaultCmd = true
	return cmd
}

func serve(ctx context.Context, cfg *config.Server) error {
	log, err := config.NewLogger(cfg.LogLevel, cfg.Debug, "", false)
	if err != nil {
		return err
	}
	defer log.Sync()

	h := hub.NewHub(ctx, lobby.Options{
		HandSize:    cfg.HandSize,
		PulseEvery:  cfg.PulseEvery,
		IdleTimeout: cfg.IdleTimeout,
		Seed:        uint64(time.Now().UnixNano()),
		Logger:      log.Named("lobby"),
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, log.Named("http"), ws.Options{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	// The hub shares ctx, so its lobbies are already closing their sockets.
	log.Info("shutting down")
	<-h.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
