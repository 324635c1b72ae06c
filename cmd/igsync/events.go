package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"igsync/pkg/events"
)

// eventsCmd represents the events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Manage created events",
}

var eventsDeleteCmd = &cobra.Command{
	Use:   "delete <event-id>",
	Short: "Delete an event and keep its post from coming back",
	Long: `Delete an event. Its permalink is remembered so the same post never
produces an event again, whatever strategy fetches it.`,
	Args: cobra.ExactArgs(1),
	RunE: runEventsDelete,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsDeleteCmd)
}

func runEventsDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), nil, func(a *app) error {
		rec, err := a.creator.Delete(cmd.Context(), args[0])
		if errors.Is(err, events.ErrNotFound) {
			return fmt.Errorf("event %s not found", args[0])
		}
		if err != nil {
			return err
		}
		printer.Success("Event deleted")
		printer.Info("Permalink", rec.Permalink)
		return nil
	})
}
