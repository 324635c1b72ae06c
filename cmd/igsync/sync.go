package main

import (
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"igsync/pkg/runstate"
	"igsync/pkg/ui"
)

var (
	syncLimit  int
	syncOrder  []string
	syncNotify bool
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass over every profile",
	Long: `Run one sync pass now.

Each profile's newest posts are acquired through the fallback cascade,
already known or deleted posts are dropped, and the rest become events.
A rejected official token halts the run. Posts served from the local cache
never create events.`,
	Example: `  # Sync with the configured cascade
  igsync sync

  # Skip the official API for this run and notify when done
  igsync sync --order session,managed_scraper --notify`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded sync run",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	syncCmd.Flags().IntVarP(&syncLimit, "limit", "l", 0, "posts to fetch per profile (overrides sync.posts_per_profile)")
	syncCmd.Flags().StringSliceVar(&syncOrder, "order", nil, "strategy order for this run (overrides fallback.order)")
	syncCmd.Flags().BoolVar(&syncNotify, "notify", false, "send a desktop notification when the run ends")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extra := map[string]interface{}{"limit": syncLimit, "order": syncOrder}
	return withApp(ctx, extra, func(a *app) error {
		runner, err := a.runner(ctx)
		if err != nil {
			return err
		}
		printer.Info("Strategies", joinNames(a.orch.Strategies()))

		report, err := runner.Run(ctx)
		if errors.Is(err, runstate.ErrAlreadyRunning) {
			printer.Warning("Another sync run is in progress, try again later")
			return nil
		}
		if err != nil {
			return err
		}

		printer.Block(ui.RenderReport(report))
		if syncNotify {
			ui.NewNotifier(printer).NotifyRun(report)
		}
		if report.Halted {
			return errors.New("sync halted: the official token was rejected")
		}
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return err
	}
	state, err := runstate.NewManager(cfg.Sync.StateFile, log)
	if err != nil {
		return err
	}
	st, err := state.Load()
	if err != nil {
		return err
	}
	printer.Info("State file", state.Path())
	printer.Block(ui.RenderState(st))
	return nil
}

func joinNames(names []string) string {
	return strings.Join(names, " → ")
}
