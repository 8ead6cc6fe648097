package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"emcp-client/internal/app"
	"emcp-client/internal/handlers"
	"emcp-client/internal/router"
	"emcp-client/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout   = 10 * time.Second
	notificationLimit = 100
)

// serveCmd exposes the marketplace actions to a local browser UI
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local UI bridge",
	Long: `Run the local UI bridge.

A browser page forwards its clicks to POST /ui/click/:action and its forms to
POST /ui/submit/:form, and listens on GET /ws for notifications and payment
confirmation requests. Only loopback clients (and server.allowedIPs) are served.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *app.ServiceContainer) error {
		engine, err := buildBridge(c)
		if err != nil {
			return err
		}

		addr := net.JoinHostPort(c.Config.Server.Host, strconv.Itoa(c.Config.Server.Port))
		srv := &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			logrus.WithFields(logrus.Fields{
				"addr":        addr,
				"marketplace": c.Config.API.BaseURL,
				"wallet":      c.HasWallet(),
			}).Info("🚀 [Bridge] Listening")
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("bridge server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logrus.Info("🛑 [Bridge] Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// websocket connections are hijacked, so Shutdown does not wait for them
		c.GetPushService().Close()
		return srv.Shutdown(shutdownCtx)
	})
}

// buildBridge wires the marketplace actions, the push service and the router
func buildBridge(c *app.ServiceContainer) (*gin.Engine, error) {
	confirmer, err := c.BridgeConfirmer()
	if err != nil {
		return nil, err
	}

	push := c.GetPushService()
	notes := services.NewRecordingNotifier(notificationLimit)
	notifier := services.MultiNotifier{push, notes, services.LogNotifier{}}

	invoker := c.NewInvocationService(confirmer, notifier)
	surface := router.NewGinSurface()
	handlers.NewMarketplaceActions(c.Marketplace, invoker, c.Sessions, notifier).Register(surface)

	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	return router.SetupRouter(c.Config.Server, router.Dependencies{
		Surface:       surface,
		PushService:   push,
		Upstream:      c.Marketplace,
		Notifications: notes,
	}), nil
}
