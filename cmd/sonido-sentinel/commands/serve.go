package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-sentinel/logging"
	"github.com/RyanBlaney/sonido-sentinel/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Serve training and diagnosis over HTTP.

Endpoints:
  POST /train?mode=idle      body is the audio file
  POST /diagnose?mode=idle   body is the audio file
  GET  /profiles             trained profiles as JSON
  GET  /healthz
  GET  /metrics              Prometheus metrics

Example:
  curl --data-binary @healthy_idle.wav 'localhost:8080/train?mode=idle'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := globalConfig
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		logger := logging.WithFields(logging.Fields{"component": "server"})
		server := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      service.NewHandler(svc, cfg.Server.MaxUploadBytes),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			logger.Info("Server listening", logging.Fields{"addr": cfg.Server.Addr})
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("Server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
