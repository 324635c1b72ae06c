package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"igsync/pkg/models"
	"igsync/pkg/ui"
)

var (
	profileSourceID string
	profileTimezone string
)

// profilesCmd represents the profiles command
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage monitored profiles",
}

var profilesAddCmd = &cobra.Command{
	Use:   "add [username]",
	Short: "Register a profile or update an existing one",
	Long: `Register a profile to monitor. Adding a username that already exists
updates its source id and timezone.

The source id is the Graph API user id used by the official strategy. When
it is given without a username and an access token is configured, the
username is looked up.`,
	Example: `  # Username only (session, scraper and web page strategies)
  igsync profiles add festival_sp

  # With a Graph user id and a profile timezone
  igsync profiles add festival_sp --source-id 17841400000000000 --timezone America/Manaus

  # Resolve the username from the Graph API
  igsync profiles add --source-id 17841400000000000`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProfilesAdd,
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfilesList,
}

func init() {
	profilesAddCmd.Flags().StringVar(&profileSourceID, "source-id", "", "Graph API user id")
	profilesAddCmd.Flags().StringVar(&profileTimezone, "timezone", "", "IANA timezone for this profile's events (default sync.timezone)")

	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesAddCmd)
	profilesCmd.AddCommand(profilesListCmd)
}

func runProfilesAdd(cmd *cobra.Command, args []string) error {
	var username string
	if len(args) > 0 {
		username = strings.TrimPrefix(strings.TrimSpace(args[0]), "@")
	}
	if username == "" && profileSourceID == "" {
		return errors.New("a username or --source-id is required")
	}
	if profileTimezone != "" {
		if _, err := time.LoadLocation(profileTimezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", profileTimezone, err)
		}
	}

	return withApp(cmd.Context(), nil, func(a *app) error {
		if profileSourceID != "" && a.graph.HasToken() {
			user, err := a.graph.FetchProfile(cmd.Context(), profileSourceID)
			switch {
			case err != nil && username == "":
				return fmt.Errorf("look up source id %s: %w", profileSourceID, err)
			case err != nil:
				printer.Warning("Could not verify source id: " + err.Error())
			case username == "":
				username = user.Username
			case !strings.EqualFold(user.Username, username):
				printer.Warning(fmt.Sprintf("Source id %s belongs to @%s, not @%s", profileSourceID, user.Username, username))
			}
		}
		if username == "" {
			return errors.New("a username is required when no access token is configured")
		}

		p, err := a.store.SaveProfile(cmd.Context(), models.Profile{
			SourceID: profileSourceID,
			Username: username,
			Timezone: profileTimezone,
		})
		if err != nil {
			return err
		}
		printer.Success("Profile saved")
		printer.Info("ID", p.ID)
		printer.Info("Username", "@"+p.Username)
		return nil
	})
}

func runProfilesList(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), nil, func(a *app) error {
		profiles, err := a.store.ListProfiles(cmd.Context())
		if err != nil {
			return err
		}
		printer.Block(ui.RenderProfiles(profiles))
		return nil
	})
}
