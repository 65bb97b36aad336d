package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orientation-ops/lessonsync/internal/ui"
)

var lessonsCmd = &cobra.Command{
	Use:     "lessons <class>",
	GroupID: "data",
	Short:   "Show a class's local lessons",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if _, err := st.GetClass(ctx, args[0]); err != nil {
			return err
		}
		lessons, err := st.GetLessons(ctx, args[0])
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(lessons)
		}
		fmt.Println(ui.Table(ui.LessonHeaders, ui.LessonRows(lessons)))
		return nil
	},
}

var liveCmd = &cobra.Command{
	Use:     "live <class>",
	GroupID: "sync",
	Short:   "Show a class's lessons as the remote tracker has them",
	Long: `Read the class's remote task list and show it as lessons. Values the
remote side does not carry are filled in from the template. Results are
cached for cache.ttl; --refresh bypasses the cache.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		asJSON, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rs, err := newRemoteStack(st)
		if err != nil {
			return err
		}

		read := rs.reader.GetLiveLessons
		if refresh {
			read = rs.reader.Refresh
		}
		live, err := read(ctx, args[0])
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(live)
		}

		fmt.Println(ui.Table(ui.LessonHeaders, ui.LessonRows(live.Lessons)))
		fmt.Printf("%s %d tasks from list %s, fetched %s\n", ui.RenderAccent("ℹ"), live.Meta.Count, live.Meta.ListID, ui.Ago(live.Meta.FetchedAt))
		if live.Meta.Stale {
			ui.Warnf("remote read failed; showing cached data")
		}
		for _, w := range live.Meta.Warnings {
			ui.Warnf("%s", w)
		}
		return nil
	},
}

func init() {
	lessonsCmd.Flags().Bool("json", false, "Print JSON")
	liveCmd.Flags().Bool("refresh", false, "Bypass the cache")
	liveCmd.Flags().Bool("json", false, "Print JSON")
	rootCmd.AddCommand(lessonsCmd, liveCmd)
}
