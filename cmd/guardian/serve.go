package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/spiralos/guardian/internal/server"
	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/watchdog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP trigger API and the periodic scan loop",
	Long: `Start the guardian service.

The service will:
1. Take the exclusive lock on the SQLite database (one scan loop per database)
2. Serve POST /v1/guardian/anomalies/scan and POST /v1/guardian/regulate
3. Expose /v1/guardian/health and /metrics
4. Scan every active node on the watchdog interval
5. Continue until stopped with Ctrl+C`,
	RunE: func(cmd *cobra.Command, args []string) error {
		traceStdout, _ := cmd.Flags().GetBool("trace-stdout")
		noWatchdog, _ := cmd.Flags().GetBool("no-watchdog")
		addr, _ := cmd.Flags().GetString("addr")

		green := color.New(color.FgGreen).SprintFunc()

		if cfg.Storage.Backend == storage.BackendSQLite {
			lock, err := storage.AcquireServeLock(cfg.Storage.Path, version)
			if err != nil {
				return err
			}
			defer func() {
				if err := lock.Release(); err != nil {
					fmt.Fprintf(os.Stderr, "warning: failed to release database lock: %v\n", err)
				}
			}()
			if lock != nil {
				fmt.Fprintf(os.Stderr, "%s Locked %s (%s)\n", green("✓"), cfg.Storage.Path, lock.Path())
			}
		}

		if traceStdout {
			shutdown, err := initTracer("guardian")
			if err != nil {
				return err
			}
			defer shutdown(context.Background())
		}

		eng, err := newEngine(cfg, store)
		if err != nil {
			return err
		}
		defer eng.Close()

		if addr != "" {
			cfg.Server.Addr = addr
		}
		gin.SetMode(gin.ReleaseMode)
		srv, err := server.New(&server.ServerConfig{
			Scanner:   eng.scanner,
			Regulator: eng.regulator,
			Gatherer:  eng.registry,
			Config:    cfg.Server,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !noWatchdog {
			wd, err := watchdog.NewWatchdog(&watchdog.WatchdogDeps{
				Scanner: eng.scanner,
				Config:  cfg.Watchdog,
			})
			if err != nil {
				return err
			}
			if err := wd.Start(ctx); err != nil {
				return err
			}
			defer wd.Stop()
		}

		fmt.Printf("%s guardian %s serving on %s (sinks: %v)\n",
			green("✓"), version, cfg.Server.Addr, eng.notifier.Sinks())

		if err := srv.Run(ctx); err != nil {
			return err
		}
		fmt.Println("\nShutting down...")
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("trace-stdout", false, "Export OpenTelemetry spans to stderr")
	serveCmd.Flags().Bool("no-watchdog", false, "Disable the periodic scan loop")
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
