// Command fieldboard keeps a local scheduling board in sync with
// Dynamics 365 Field Service.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fieldboard/fieldboard/internal/auth"
	"github.com/fieldboard/fieldboard/internal/config"
	"github.com/fieldboard/fieldboard/internal/dynamics"
	"github.com/fieldboard/fieldboard/internal/logging"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fieldboard",
	Short: "Two-way sync between a scheduling board and Field Service",
	Long: `Fieldboard mirrors Dynamics 365 Field Service bookings into a local
YAML board file and pushes board edits back as minimal remote updates.

Typical workflow:
  fieldboard login     # interactive device-code sign-in
  fieldboard pull      # load resources and bookings into the board
  fieldboard serve     # watch the board and reconcile edits live
  fieldboard book      # interactively create a booking`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./fieldboard.yaml)")
}

// loadConfig reads and validates the config for commands that talk to
// Field Service.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogFactory builds the shared logger factory from config.
func newLogFactory(cfg *config.Config) *logging.Factory {
	return logging.NewFactory(logging.Options{
		FilePath:   cfg.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
	})
}

// newAuthManager creates the token manager. interactive enables the
// device-code fallback; headless commands leave it off so a missing
// session fails fast with a pointer to 'fieldboard login'.
func newAuthManager(cfg *config.Config, logs *logging.Factory, interactive bool) (*auth.Manager, error) {
	return auth.NewManager(auth.Config{
		TenantID:    cfg.Dynamics.TenantID,
		ClientID:    cfg.Dynamics.ClientID,
		OrgID:       cfg.Dynamics.OrgID,
		CachePath:   cfg.TokenPath,
		Interactive: interactive,
		Logger:      logs.New("auth"),
	})
}

// newDynamicsClient creates the Field Service client.
func newDynamicsClient(cfg *config.Config, tokens dynamics.TokenSource, logs *logging.Factory) (*dynamics.Client, error) {
	return dynamics.NewClient(&dynamics.Config{
		OrgID:      cfg.Dynamics.OrgID,
		BaseURL:    cfg.Dynamics.BaseURL,
		Tokens:     tokens,
		HTTPClient: http.DefaultClient,
		Logger:     logs.New("dynamics"),
	})
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
