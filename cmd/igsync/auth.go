package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igsync/pkg/credentials"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the session account",
	Long: `Manage the Instagram account used by the session strategy.

Accounts are stored in, by priority:
  - System keychain (when available)
  - Encrypted file in the igsync config directory
  - IGSYNC_SESSION_USERNAME / IGSYNC_SESSION_PASSWORD (read only)

Use a dedicated account: it may be challenged or blocked by Instagram.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store the session account",
	Example: `  # Interactive login
  igsync auth login

  # Login with username
  igsync auth login events_bot`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [username]",
	Short: "Remove a stored account",
	Long:  `Remove a stored account. Without a username the default account is removed.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored accounts",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(authStatusCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := credentials.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		fmt.Print("Instagram username: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = input
	}
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return errors.New("username is required")
	}

	if existing, _ := manager.Get(username); existing != nil {
		fmt.Printf("Account '%s' already exists. Update password? (y/N): ", username)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("Password: ")
	password, err := readPassword(reader)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return errors.New("password is required")
	}

	where, err := manager.Save(&credentials.Account{Username: username, Password: password})
	if err != nil {
		return err
	}
	printer.Success("Account saved: " + username)
	printer.Info("Stored in", where)
	fmt.Println("\nEnable the session strategy with session.enabled: true or IGSYNC_SESSION_ENABLED=true.")
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := credentials.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		acc, err := manager.Default()
		if errors.Is(err, credentials.ErrNotFound) {
			printer.Warning("No stored accounts")
			return nil
		}
		if err != nil {
			return err
		}
		username = acc.Username
	}

	if err := manager.Delete(username); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	printer.Success("Account removed: " + username)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	manager, err := credentials.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	printer.Info("Stores", strings.Join(manager.Stores(), ", "))

	accounts, err := manager.List()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		printer.Warning("No stored accounts. Use 'igsync auth login' to add one.")
		return nil
	}
	for i, acc := range accounts {
		masked := credentials.Masked(acc)
		fmt.Printf("%d. %s  password %s  modified %s\n",
			i+1, masked.Username, masked.Password, masked.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// readPassword reads without echo on a terminal, plain input otherwise
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
