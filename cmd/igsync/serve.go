package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"igsync/pkg/metrics"
	"igsync/pkg/scheduler"
	"igsync/pkg/server"
)

var (
	serveAddr       string
	serveNoSchedule bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the sync schedule",
	Long: `Run the HTTP API together with the periodic sync.

The schedule is a standard five-field cron expression evaluated in
sync.timezone (default: every six hours, America/Sao_Paulo). A scheduled
tick is skipped while a previous run still holds the lock.

Endpoints:
  POST   /instagram/sync
  GET    /instagram/test
  POST   /instagram/exchange-token
  GET    /instagram/status
  POST   /instagram/posts
  DELETE /events/{id}
  GET    /healthz
  GET    /metrics`,
	Example: `  # Serve on the configured address
  igsync serve

  # API only, no scheduled runs
  igsync serve --addr :9090 --no-schedule`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "disable the periodic sync")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer.Logo()
	return withApp(ctx, map[string]interface{}{"addr": serveAddr}, func(a *app) error {
		runner, err := a.runner(ctx)
		if err != nil {
			return err
		}

		metrics.RegisterDefault()

		if !serveNoSchedule {
			sched, err := scheduler.New(a.cfg.Sync.Schedule, a.cfg.Sync.Timezone, runner, a.log)
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()
			printer.Info("Next sync", sched.Next().Format("2006-01-02 15:04 MST"))
		}

		printer.Info("Listening on", a.cfg.Server.Addr)
		printer.Info("Strategies", joinNames(a.orch.Strategies()))

		srv := server.New(a.cfg.Server, a.coord, runner, a.creator, a.log)
		if err := srv.ListenAndServe(ctx); err != nil {
			return err
		}
		printer.Success("Server stopped")
		return nil
	})
}
