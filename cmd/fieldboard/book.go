package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/fieldboard/fieldboard/internal/reconcile"
	"github.com/fieldboard/fieldboard/internal/schedule"
	"github.com/fieldboard/fieldboard/internal/store"
)

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Interactively create a booking",
	Long: `Create a Field Service booking through an interactive form.

The start time accepts natural language ("tomorrow 9am", "next monday
14:00"). The booking is created remotely, stored locally, and written
to the board file.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		logs := newLogFactory(cfg)
		ctx := cmd.Context()

		manager, err := newAuthManager(cfg, logs, true)
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

		resources, err := st.ListResources(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		if len(resources) == 0 {
			fatalf("no resources in local store, run 'fieldboard pull' first")
		}

		opts := make([]huh.Option[string], 0, len(resources))
		for _, r := range resources {
			opts = append(opts, huh.NewOption(r.Name, r.ID))
		}

		var (
			name       string
			resourceID string
			startText  string
			durText    = "60"
			travelText string
			confirmed  bool
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Booking name").
					Value(&name),
				huh.NewSelect[string]().
					Title("Resource").
					Options(opts...).
					Value(&resourceID),
				huh.NewInput().
					Title("Start (e.g. \"tomorrow 9am\")").
					Value(&startText),
				huh.NewInput().
					Title("Duration (minutes)").
					Value(&durText),
				huh.NewInput().
					Title("Travel buffer (minutes, optional)").
					Value(&travelText),
				huh.NewConfirm().
					Title("Create this booking?").
					Value(&confirmed),
			),
		)
		if err := form.Run(); err != nil {
			fatalf("%v", err)
		}
		if !confirmed {
			fmt.Println("Cancelled")
			return
		}

		start, err := parseStart(startText)
		if err != nil {
			fatalf("%v", err)
		}
		duration, err := strconv.Atoi(durText)
		if err != nil || duration <= 0 {
			fatalf("invalid duration %q", durText)
		}
		travel, err := schedule.ParseTravel(travelText)
		if err != nil {
			fatalf("%v", err)
		}

		booking := schedule.Booking{
			ID:         schedule.NewPlaceholderID(),
			Name:       name,
			Start:      start,
			End:        start.Add(time.Duration(duration) * time.Minute),
			Duration:   duration,
			Travel:     travel,
			ResourceID: resourceID,
		}
		if err := st.UpsertBooking(ctx, booking); err != nil {
			fatalf("%v", err)
		}

		rec, err := reconcile.New(reconcile.Config{
			Remote: client,
			Local:  st,
			Mapper: schedule.NewMapper(nil),
			Logger: logs.New("reconcile"),
		})
		if err != nil {
			fatalf("%v", err)
		}

		ev := schedule.ChangeEvent{
			Action:  schedule.ActionAdd,
			Store:   schedule.StoreBookings,
			Booking: booking,
		}
		if err := rec.Apply(ctx, ev); err != nil {
			fatalf("create failed: %v", err)
		}

		if err := renderBoard(ctx, st, cfg.BoardPath); err != nil {
			fatalf("write board: %v", err)
		}

		fmt.Printf("%s Booked %q for %s at %s\n",
			passStyle.Render("✓"), name, resourceID, start.Format("2006-01-02 15:04"))
	},
}

// parseStart turns a natural-language time expression into an instant.
func parseStart(text string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse start time %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand start time %q", text)
	}
	return r.Time, nil
}

func init() {
	rootCmd.AddCommand(bookCmd)
}
