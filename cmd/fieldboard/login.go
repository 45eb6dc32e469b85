package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to Field Service",
	Long: `Sign in to Dynamics 365 Field Service with the OAuth2 device-code flow.

A verification URL and one-time code are printed; complete the sign-in
in a browser on any device. The session is cached locally so later
commands run without prompting until the refresh token expires.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		logs := newLogFactory(cfg)

		manager, err := newAuthManager(cfg, logs, true)
		if err != nil {
			fatalf("%v", err)
		}

		if err := manager.SignIn(cmd.Context()); err != nil {
			fatalf("sign-in failed: %v", err)
		}

		fmt.Printf("%s Signed in to %s\n", passStyle.Render("✓"), cfg.Dynamics.OrgID)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the cached session",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		logs := newLogFactory(cfg)

		manager, err := newAuthManager(cfg, logs, false)
		if err != nil {
			fatalf("%v", err)
		}

		if err := manager.SignOut(); err != nil {
			fatalf("sign-out failed: %v", err)
		}

		fmt.Printf("%s Signed out\n", passStyle.Render("✓"))
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
