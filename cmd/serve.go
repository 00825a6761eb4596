package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/andresmejia3/mirage/internal/api"
	"github.com/andresmejia3/mirage/internal/preview"
	"github.com/andresmejia3/mirage/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	serveOpts Options
	listen    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve preview sessions over a websocket (one session per connection)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applySessionFlags(cmd, &serveOpts); err != nil {
			return err
		}
		if listen != "" {
			Cfg.Listen = listen
		}
		return runServe(cmd.Context(), serveOpts)
	},
}

func init() {
	addSessionFlags(serveCmd, &serveOpts)
	serveCmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default: $MIRAGE_LISTEN or :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, opts Options) error {
	eng, err := newEngine(ctx, opts)
	if err != nil {
		utils.ShowError("Failed to initialize media engine", err, nil)
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(func(h api.SessionHooks) (*preview.Controller, io.Closer, error) {
		// Each connection ends on its own: a violation never exits the server.
		ctrl, s, err := eng.newSession(sessionHooks{Display: h.Display, Terminate: h.Terminate, Profile: h.Profile})
		if err != nil {
			return nil, nil, err
		}
		return ctrl, s, nil
	}, startFunc(Cfg.StartCmd))

	httpSrv := &http.Server{Addr: Cfg.Listen, Handler: srv.Router()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	fmt.Fprintf(os.Stderr, "🔌 Mirage listening on %s (ws://%s/ws)\n", Cfg.Listen, Cfg.Listen)
	fmt.Fprintf(os.Stderr, "⚙️  Processors: %v | safety threshold %.2f | on violation: %s\n",
		Cfg.Processors, Cfg.SafetyThreshold, Cfg.ViolationPolicy())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\n🛑 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
