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

	"pixieauth/core"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the loopback callback server until interrupted",
	Long: `Run the callback server so redirect sign-ins started from other local tools
(POST /login) can complete. GET /status and POST /logout are served too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return runServe(ctx, a)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, a *app) error {
	caps := core.Capabilities{
		ReceivesCallbacks: true,
		Native:            nativeSignIns("", "", ""),
	}
	controller, err := a.newController(caps, core.SystemBrowser{})
	if err != nil {
		return err
	}
	server := core.NewServer(controller, &a.config.Core, a.logger)

	ln, err := net.Listen("tcp", a.config.Server.Listen)
	if err != nil {
		return err
	}
	httpServer := &http.Server{Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}

	a.logger.Info("starting pixieauth server",
		"addr", ln.Addr().String(),
		"callback_path", server.CallbackPath(),
		"providers", core.Providers(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			case out := <-controller.Outcomes():
				a.logger.Info("authentication outcome",
					"attempt", out.AttemptID,
					"provider", out.Provider,
					"outcome", out.Kind,
					"message", out.Message,
				)
			}
		}
	})

	err = g.Wait()
	controller.Cancel()
	controller.Wait()
	return err
}
