package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldboard/fieldboard/internal/schedule"
	"github.com/fieldboard/fieldboard/internal/store"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Load resources and bookings from Field Service",
	Long: `Fetch all bookable resources and bookings from Field Service,
replace the local store contents, and render the board file.

Any unsynced local edits in the board file are overwritten; run pull
when you want the remote system's view of the schedule.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		logs := newLogFactory(cfg)
		ctx := cmd.Context()

		manager, err := newAuthManager(cfg, logs, false)
		if err != nil {
			fatalf("%v", err)
		}
		client, err := newDynamicsClient(cfg, manager, logs)
		if err != nil {
			fatalf("%v", err)
		}

		st, err := store.Open(cfg.StorePath)
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		avatars := schedule.NewAvatarService("", nil, logs.New("avatar"))
		mapper := schedule.NewMapper(avatars)

		fmt.Printf("%s Pulling from %s...\n", accentStyle.Render("→"), cfg.Dynamics.OrgID)
		start := time.Now()

		nr, nb, err := loadSnapshot(ctx, client, mapper, st)
		if err != nil {
			fatalf("pull failed: %v", err)
		}
		if err := renderBoard(ctx, st, cfg.BoardPath); err != nil {
			fatalf("write board: %v", err)
		}

		fmt.Printf("%s Pull complete in %v\n", passStyle.Render("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Resources: %d\n", nr)
		fmt.Printf("   Bookings: %d\n", nb)
		fmt.Printf("   Board: %s\n", cfg.BoardPath)
	},
}

func init() {
	rootCmd.AddCommand(pullCmd)
}
