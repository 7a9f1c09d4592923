package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/session"
	"github.com/kozaktomas/rollcall/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Rollcall web server.
The server exposes the session API, live event streams (SSE and WebSocket)
and a browser console for opening, running and ending attendance sessions.

Backends are chosen from the environment:
  DATABASE_URL         PostgreSQL roster, attendance store and descriptor cache
  LEGACY_DATABASE_URL  read-only MariaDB roster and timetable
  ROLLCALL_API_URL     remote roster/attendance API and reference images`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		rt.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		rt.cfg.Web.Host = host
	}

	deps, opts, err := rt.sessionDeps(ctx)
	if err != nil {
		return err
	}
	if deps.NewMatcher == nil {
		fmt.Println("No camera configured (CAMERA_SNAPSHOT_URL / CAMERA_FRAME_DIR): manual marking only")
	}

	manager := session.NewManager(deps, opts, rt.cfg.Sync.SessionRetention)
	if err := manager.StartJanitor(constants.JanitorSchedule); err != nil {
		return fmt.Errorf("starting session janitor: %w", err)
	}

	server := web.NewServer(rt.cfg, manager, rt.collab, rt.location, rt.logger.Named("web"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			rt.logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	fmt.Printf("Starting Rollcall on http://%s:%d\n", rt.cfg.Web.Host, rt.cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
