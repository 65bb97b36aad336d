package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orientation-ops/lessonsync/internal/lesson"
	"github.com/orientation-ops/lessonsync/internal/store"
	"github.com/orientation-ops/lessonsync/internal/ui"
)

var classCmd = &cobra.Command{
	Use:     "class",
	GroupID: "data",
	Short:   "Manage classes",
}

var classCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a class, seeded from the template",
	Long: `Create a class. Unless --no-seed is given, the class starts with a copy
of every template lesson (fresh ids, no remote links).

The remote list is found by name on first sync; --list pins it explicitly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, _ := cmd.Flags().GetString("folder")
		list, _ := cmd.Flags().GetString("list")
		noSeed, _ := cmd.Flags().GetBool("no-seed")

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		c := store.Class{Name: args[0], RemoteFolderID: folder, RemoteListID: list}
		if err := st.CreateClass(ctx, c, !noSeed); err != nil {
			return err
		}
		stats, err := st.Stats(ctx, c.Name)
		if err != nil {
			return err
		}
		fmt.Printf("%s Created class %s with %d lessons\n", ui.RenderPass("✓"), ui.RenderBold(c.Name), stats.Total)
		return nil
	},
}

var classListCmd = &cobra.Command{
	Use:   "list",
	Short: "List classes with lesson counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		classes, err := st.ListClasses(ctx)
		if err != nil {
			return err
		}
		if len(classes) == 0 {
			fmt.Println("No classes yet. Create one with 'lsync class create <name>'.")
			return nil
		}

		rows := make([][]string, 0, len(classes))
		for _, c := range classes {
			stats, err := st.Stats(ctx, c.Name)
			if err != nil {
				return err
			}
			list := c.RemoteListID
			if list == "" {
				list = ui.RenderMuted("unresolved")
			}
			rows = append(rows, []string{
				c.Name,
				fmt.Sprint(stats.Total),
				fmt.Sprint(stats.Synced),
				fmt.Sprint(stats.Unsynced),
				list,
				ui.Ago(c.CreatedAt),
			})
		}
		fmt.Println(ui.Table([]string{"Class", "Lessons", "Synced", "Unsynced", "Remote list", "Created"}, rows))
		return nil
	},
}

var classImportCmd = &cobra.Command{
	Use:   "import <name> <file>",
	Short: "Replace a class's lessons from a JSON, JSONL or YAML file",
	Long: `Replace every lesson of a class with the contents of a file, in one
transaction. Remote links already stored for a lesson id are kept when the
file does not carry one. Lessons without an id get ids after the highest one
in the file.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		ctx := cmd.Context()

		lessons, err := lesson.ReadFile(args[1])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		existing, err := st.GetLessons(ctx, args[0])
		if err != nil {
			return err
		}
		byID := make(map[int64]lesson.Lesson, len(existing))
		for _, l := range existing {
			byID[l.ID] = l
		}
		for i, l := range lessons {
			if prev, ok := byID[l.ID]; ok && l.ID != 0 && l.RemoteTaskID == "" {
				lessons[i].RemoteTaskID = prev.RemoteTaskID
			}
		}

		if len(existing) > 0 {
			ok, err := confirm("replace lessons", fmt.Sprintf("%s has %d lessons; they will be replaced by %d from %s.", args[0], len(existing), len(lessons), args[1]), yes)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		if err := st.ReplaceLessons(ctx, args[0], lessons); err != nil {
			return err
		}
		fmt.Printf("%s Imported %d lessons into %s\n", ui.RenderPass("✓"), len(lessons), ui.RenderBold(args[0]))
		return nil
	},
}

var classDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a class and its lessons (remote tasks are left alone)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if _, err := st.GetClass(ctx, args[0]); err != nil {
			return err
		}
		ok, err := confirm("delete class", fmt.Sprintf("Delete %s and all of its local lessons?", args[0]), yes)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled.")
			return nil
		}
		if err := st.DeleteClass(ctx, args[0]); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("class %s no longer exists", args[0])
			}
			return err
		}
		fmt.Printf("%s Deleted class %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

func init() {
	classCreateCmd.Flags().String("folder", "", "Remote folder to search for the class list")
	classCreateCmd.Flags().String("list", "", "Remote list id, if already known")
	classCreateCmd.Flags().Bool("no-seed", false, "Create the class without template lessons")
	classImportCmd.Flags().BoolP("yes", "y", false, "Replace without asking")
	classDeleteCmd.Flags().BoolP("yes", "y", false, "Delete without asking")

	classCmd.AddCommand(classCreateCmd, classListCmd, classImportCmd, classDeleteCmd)
	rootCmd.AddCommand(classCmd)
}
