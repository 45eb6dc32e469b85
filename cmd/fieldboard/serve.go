package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldboard/fieldboard/internal/dashboard"
	"github.com/fieldboard/fieldboard/internal/dynamics"
	"github.com/fieldboard/fieldboard/internal/reconcile"
	"github.com/fieldboard/fieldboard/internal/schedule"
	"github.com/fieldboard/fieldboard/internal/status"
	"github.com/fieldboard/fieldboard/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the board file and reconcile edits live",
	Long: `Run the sync loop: pull a fresh snapshot, then watch the board file
and push every edit to Field Service as it lands.

Board edits are diffed against the local store into per-field change
events. New entries are created remotely, edited entries are patched
with only their changed fields, and removed entries are deleted. The
sync indicator and a WebSocket dashboard reflect progress.

WebSocket messages on ws://localhost:<port>/ws:
- booking_update: booking created, updated, or deleted
- sync_status: indicator changed (idle, busy, error)
- snapshot_loaded: a full remote snapshot finished loading`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		if dashboardPort > 0 {
			cfg.DashboardPort = dashboardPort
		}
		logs := newLogFactory(cfg)
		logger := logs.New("serve")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

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

		// Dashboard first so the initial snapshot is broadcast too.
		dash := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.DashboardPort,
			Logger: logs.New("dashboard"),
		})
		if err := dash.Start(); err != nil {
			fatalf("%v", err)
		}
		defer dash.Stop()
		handler := dashboard.NewHandler(dash, logs.New("dashboard"))

		reporter := status.NewReporter(status.RevertAfter(status.RevertDelay))
		reporter.Subscribe(handler.OnSyncStatus)
		reporter.Subscribe(func(snap status.Snapshot) {
			fmt.Println(status.Render(snap))
		})

		rec, err := reconcile.New(reconcile.Config{
			Remote: client,
			Local:  st,
			Mapper: mapper,
			Status: reporter,
			Logger: logs.New("reconcile"),
		})
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s Loading snapshot from %s...\n", accentStyle.Render("→"), cfg.Dynamics.OrgID)
		if err := refreshSnapshot(ctx, client, mapper, st, cfg.BoardPath, handler); err != nil {
			fatalf("initial load failed: %v", err)
		}

		watcher, err := store.NewBoardWatcher(cfg.BoardPath, cfg.Debounce)
		if err != nil {
			fatalf("%v", err)
		}
		if err := watcher.Start(); err != nil {
			fatalf("%v", err)
		}
		defer watcher.Stop()

		fmt.Printf("%s Watching %s\n", passStyle.Render("✓"), cfg.BoardPath)
		fmt.Printf("   Dashboard: http://localhost%s\n", dash.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nShutting down...")
				return

			case err, ok := <-watcher.Errors():
				if !ok {
					return
				}
				logger.Printf("Watcher error: %v", err)

			case _, ok := <-watcher.Events():
				if !ok {
					return
				}
				if err := syncBoard(ctx, cfg.BoardPath, st, rec, reporter, handler, logger); err != nil {
					logger.Printf("Sync error: %v", err)
				}
			}
		}
	},
}

// refreshSnapshot loads remote state, renders the board, and announces
// the load on the dashboard.
func refreshSnapshot(ctx context.Context, client *dynamics.Client, mapper *schedule.Mapper, st *store.Store, boardPath string, handler *dashboard.Handler) error {
	start := time.Now()
	nr, nb, err := loadSnapshot(ctx, client, mapper, st)
	if err != nil {
		return err
	}
	if err := renderBoard(ctx, st, boardPath); err != nil {
		return err
	}
	handler.OnSnapshotLoaded(nr, nb, time.Since(start))
	return nil
}

// syncBoard reads the board file, diffs it against the store, and
// applies the resulting change events. Events for distinct bookings
// run concurrently. When every operation succeeds the board is
// re-rendered so new entries pick up their assigned ids; after any
// failure the file is left as the user wrote it.
func syncBoard(ctx context.Context, boardPath string, st *store.Store, rec *reconcile.Reconciler, reporter *status.Reporter, handler *dashboard.Handler, logger *log.Logger) error {
	entries, err := store.ReadBoard(boardPath)
	if err != nil {
		reporter.Fail(fmt.Sprintf("board file: %v", err))
		return err
	}

	current, err := st.ListBookings(ctx)
	if err != nil {
		return err
	}

	events := store.DiffBoard(current, entries)
	if len(events) == 0 {
		return nil
	}
	logger.Printf("Board changed: %d event(s)", len(events))

	// New bookings enter the store under their placeholder id before
	// the create call, so id resolution has a row to rewrite.
	for _, ev := range events {
		if ev.Action == schedule.ActionAdd {
			if err := st.UpsertBooking(ctx, ev.Booking); err != nil {
				return err
			}
		}
	}

	var wg sync.WaitGroup
	var failed atomic.Bool
	for _, ev := range events {
		wg.Add(1)
		go func(ev schedule.ChangeEvent) {
			defer wg.Done()
			if err := rec.Apply(ctx, ev); err != nil {
				logger.Printf("Apply %s %s: %v", ev.Action, ev.Booking.ID, err)
				failed.Store(true)
				return
			}
			handler.OnBookingChange(ev)
		}(ev)
	}
	wg.Wait()

	// A failed operation leaves the user's edit only in the board
	// file; rewriting it from the store would erase that edit. Leave
	// the board untouched so the next cycle re-diffs and retries.
	if failed.Load() {
		return nil
	}

	// Re-render so the file carries real ids and canonical formatting.
	return renderBoard(ctx, st, boardPath)
}

var dashboardPort int

func init() {
	serveCmd.Flags().IntVar(&dashboardPort, "dashboard-port", 0, "Dashboard port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
