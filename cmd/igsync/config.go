package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"igsync/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage igsync configuration files.

Configuration is loaded from, by priority:
  - Command line flags
  - Environment variables (IGSYNC_*, also read from .env)
  - Configuration file
  - Default values`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with the main options.

The file is created as 'igsync.yaml' in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after merging every source. Secrets are masked.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# igsync configuration
#
# Every value can be overridden with an IGSYNC_ environment variable,
# e.g. IGSYNC_INSTAGRAM_ACCESS_TOKEN or IGSYNC_SCRAPER_API_TOKEN.

# Official Graph API
instagram:
  access_token: ""
  # Required by 'igsync token exchange'
  app_secret: ""
  timeout: 30s

# Session emulation with a real account (see 'igsync auth login')
session:
  enabled: false
  auto_follow: true
  follow_cooldown: 2s

# Managed scraping service (Apify)
scraper:
  enabled: false
  api_token: ""
  actor: "apify~instagram-scraper"
  poll_interval: 2s
  poll_timeout: 5m

# Posts already stored are replayed when every source fails
cache:
  max_age: 168h

fallback:
  # The cache is always tried last and must not be listed
  order: ["official", "session", "managed_scraper"]
  web_page_enabled: false
  preflight: true
  rate_limit_retries: 0

# Per-strategy outbound limit
rate_limit:
  max_requests: 10
  window: 1m

sync:
  posts_per_profile: 3
  schedule: "0 */6 * * *"
  timezone: "America/Sao_Paulo"
  state_file: "./data/last_sync.json"

database:
  # sqlite, postgres or memory
  driver: "sqlite"
  path: "./data/igsync.db"
  dsn: ""

# Set addr to share the run lock between instances
redis:
  addr: ""
  lock_ttl: 30m

server:
  addr: ":8080"
  request_timeout: 15m

# LLM caption rewriting; leave api_key empty to use the built-in rules
caption:
  base_url: "https://api.openai.com/v1"
  api_key: ""
  model: "gpt-4o-mini"
  requests_per_minute: 15

# OCR of flyer images; leave endpoint empty to disable
ocr:
  endpoint: ""
  api_key: ""
  language: "por"

logging:
  # debug, info, warn, error
  level: "info"
  # console or json
  format: "console"
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "igsync.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	printer.Success("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Add an access token, a session account or a scraper token")
	fmt.Println("2. Run 'igsync config validate'")
	fmt.Println("3. Register profiles with 'igsync profiles add <username>'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, map[string]interface{}{"log-level": logLevel})
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg.Masked())
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, map[string]interface{}{"log-level": logLevel})
	if err != nil {
		printer.Error("Configuration is invalid", nil)
		for _, e := range unwrapAll(err) {
			fmt.Printf("  - %s\n", e)
		}
		return errors.New("configuration validation failed")
	}

	var warnings []string
	if cfg.Instagram.AccessToken == "" && !cfg.Session.Enabled && !cfg.Scraper.Enabled && !cfg.Fallback.WebPageEnabled {
		warnings = append(warnings, "no acquisition source is configured; only the cache will be used")
	}
	if cfg.Session.Enabled && cfg.Session.AutoFollow {
		warnings = append(warnings, "session auto-follow is on; private profiles will be followed by the session account")
	}
	if cfg.Database.Driver == "memory" {
		warnings = append(warnings, "memory database loses every event on exit")
	}
	for _, w := range warnings {
		printer.Warning("warning: " + w)
	}

	printer.Success("Configuration is valid")
	printer.Info("Fallback order", joinNames(cfg.Fallback.Order))
	printer.Info("Database", cfg.Database.Driver)
	printer.Info("Schedule", cfg.Sync.Schedule+" ("+cfg.Sync.Timezone+")")
	return nil
}

// unwrapAll flattens the joined validation errors
func unwrapAll(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}
