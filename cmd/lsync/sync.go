package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/orientation-ops/lessonsync/internal/store"
	lessonsync "github.com/orientation-ops/lessonsync/internal/sync"
	"github.com/orientation-ops/lessonsync/internal/ui"
)

// printListener echoes each per-lesson outcome as it happens.
type printListener struct{}

func (printListener) OnAction(a lessonsync.Action) {
	mark := ui.RenderPass("✓")
	if a.Status == store.StatusError {
		mark = ui.RenderFail("✗")
	}
	fmt.Printf("  %s %-6s %s %s\n", mark, a.Action, a.LessonName, ui.RenderMuted(a.Message))
}

func (printListener) OnComplete(lessonsync.Result) {}

var syncCmd = &cobra.Command{
	Use:     "sync [class...]",
	GroupID: "sync",
	Short:   "Push local lessons to the remote tracker",
	Long: `Reconcile classes into their remote task lists:
  1. Lessons without a remote task are linked to a same-named task, or created
  2. Linked lessons have their name, description, dropdowns and leads patched
  3. Failures are logged per lesson and do not stop the pass

Mutations are paced by remote.rate_per_minute. When --timeout passes, no new
mutation is started and the partial result is reported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		asJSON, _ := cmd.Flags().GetBool("json")

		if len(args) == 0 && !all {
			return fmt.Errorf("name a class or pass --all")
		}

		ctx, stop := signalContext()
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		classes := args
		if all {
			list, err := st.ListClasses(ctx)
			if err != nil {
				return err
			}
			classes = nil
			for _, c := range list {
				classes = append(classes, c.Name)
			}
		}

		rs, err := newRemoteStack(st)
		if err != nil {
			return err
		}
		var listener lessonsync.Listener
		if !asJSON {
			listener = printListener{}
		}
		eng := rs.engine(st, listener, dryRun)

		failed := 0
		var results []lessonsync.Result
		for _, class := range classes {
			if !asJSON {
				fmt.Printf("%s Syncing %s%s\n", ui.RenderAccent("🔄"), ui.RenderBold(class), dryRunSuffix(dryRun))
			}
			res, err := syncOne(ctx, eng, class, timeout)
			if err != nil {
				ui.Errorf("%s: %v", class, err)
				failed++
				continue
			}
			results = append(results, res)
			failed += res.Errors
			if !asJSON {
				printResult(res)
			}
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d failures; see 'lsync log --errors'", failed)
		}
		return nil
	},
}

func syncOne(ctx context.Context, eng lessonsync.Syncer, class string, timeout time.Duration) (lessonsync.Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return eng.Sync(ctx, class)
}

func dryRunSuffix(dryRun bool) string {
	if dryRun {
		return ui.RenderMuted(" (dry run)")
	}
	return ""
}

func printResult(res lessonsync.Result) {
	fmt.Printf("%s created=%d updated=%d linked=%d closed=%d skipped=%d errors=%d in %s\n",
		ui.RenderPass("✓"), res.Created, res.Updated, res.Linked, res.Closed, res.Skipped, res.Errors, res.Duration.Round(time.Millisecond))
	if res.Stopped {
		ui.Warnf("stopped before every lesson was handled; run sync again to finish")
	}
	for _, w := range res.Warnings {
		ui.Warnf("%s", w)
	}
}

var statusCmd = &cobra.Command{
	Use:     "status [class]",
	GroupID: "sync",
	Short:   "Show sync state per class",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var classes []store.Class
		if len(args) == 1 {
			c, err := st.GetClass(ctx, args[0])
			if err != nil {
				return err
			}
			classes = []store.Class{*c}
		} else if classes, err = st.ListClasses(ctx); err != nil {
			return err
		}

		info, err := os.Stat(st.Path())
		if err == nil {
			fmt.Printf("\n%s Lesson store: %s (%s)\n\n", ui.RenderAccent("📊"), st.Path(), humanize.Bytes(uint64(info.Size())))
		}

		rows := make([][]string, 0, len(classes))
		for _, c := range classes {
			stats, err := st.Stats(ctx, c.Name)
			if err != nil {
				return err
			}
			last, lastErrs, err := lastRun(ctx, st, c.Name)
			if err != nil {
				return err
			}
			errs := fmt.Sprint(lastErrs)
			if lastErrs > 0 {
				errs = ui.RenderFail(errs)
			}
			rows = append(rows, []string{
				c.Name,
				fmt.Sprint(stats.Total),
				ui.RenderPass(fmt.Sprint(stats.Synced)),
				fmt.Sprint(stats.Unsynced),
				fmt.Sprint(stats.Inactive),
				ui.Ago(last),
				errs,
			})
		}
		fmt.Println(ui.Table([]string{"Class", "Lessons", "Synced", "Unsynced", "Inactive", "Last sync", "Last errors"}, rows))
		return nil
	},
}

// lastRun finds the newest sync run of a class and counts its errors.
func lastRun(ctx context.Context, st *store.Store, class string) (time.Time, int, error) {
	latest, err := st.ListSyncLog(ctx, store.LogFilter{ClassKey: class, Limit: 1})
	if err != nil || len(latest) == 0 {
		return time.Time{}, 0, err
	}
	errs, err := st.ListSyncLog(ctx, store.LogFilter{ClassKey: class, RunID: latest[0].RunID, Status: store.StatusError})
	if err != nil {
		return time.Time{}, 0, err
	}
	return latest[0].CreatedAt, len(errs), nil
}

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "sync",
	Short:   "Show the sync log",
	Example: `  lsync log --class "PD OTN 06.09.25" --since yesterday
  lsync log --errors --since 48h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		class, _ := cmd.Flags().GetString("class")
		since, _ := cmd.Flags().GetString("since")
		onlyErrors, _ := cmd.Flags().GetBool("errors")
		limit, _ := cmd.Flags().GetInt("limit")
		run, _ := cmd.Flags().GetString("run")

		sinceTime, err := parseSince(since, time.Now())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		filter := store.LogFilter{ClassKey: class, RunID: run, Since: sinceTime, Limit: limit}
		if onlyErrors {
			filter.Status = store.StatusError
		}
		entries, err := st.ListSyncLog(ctx, filter)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No sync log entries match.")
			return nil
		}

		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			status := ui.RenderPass(e.Status)
			if e.Status == store.StatusError {
				status = ui.RenderFail(e.Status)
			}
			rows = append(rows, []string{
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				e.ClassKey,
				fmt.Sprint(e.LessonID),
				e.Action,
				status,
				e.Message,
				shortRun(e.RunID),
			})
		}
		fmt.Println(ui.Table([]string{"Time", "Class", "Lesson", "Action", "Status", "Message", "Run"}, rows))
		return nil
	},
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	syncCmd.Flags().Bool("all", false, "Sync every class")
	syncCmd.Flags().Bool("dry-run", false, "Compute changes without touching the remote tracker")
	syncCmd.Flags().Duration("timeout", 0, "Stop starting new mutations after this long (0 = no limit)")
	syncCmd.Flags().Bool("json", false, "Print results as JSON")

	logCmd.Flags().String("class", "", "Only this class")
	logCmd.Flags().String("since", "", `Only entries after this time ("yesterday", "36h", "2025-09-06")`)
	logCmd.Flags().Bool("errors", false, "Only failures")
	logCmd.Flags().Int("limit", 50, "Maximum entries (0 = all)")
	logCmd.Flags().String("run", "", "Only this run id")

	rootCmd.AddCommand(syncCmd, statusCmd, logCmd)
}
