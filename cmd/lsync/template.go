package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orientation-ops/lessonsync/internal/lesson"
	"github.com/orientation-ops/lessonsync/internal/ui"
)

var templateCmd = &cobra.Command{
	Use:     "template",
	GroupID: "data",
	Short:   "Manage the shared lesson template",
	Long: `The template is the canonical lesson set every new class is cloned from.
It is also consulted when reading remote lessons: start/end times and
subjects missing on the remote side are filled in from the template lesson
with the same name.`,
}

var templateImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the template from a JSON, JSONL or YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		ctx := cmd.Context()

		lessons, err := lesson.ReadFile(args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		current, err := st.GetTemplate(ctx)
		if err != nil {
			return err
		}
		if len(current) > 0 {
			ok, err := confirm("replace template", fmt.Sprintf("The template has %d lessons; they will be replaced by %d from %s. Existing classes are not changed.", len(current), len(lessons), args[0]), yes)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		if err := st.ReplaceTemplate(ctx, lessons); err != nil {
			return err
		}
		fmt.Printf("%s Template now has %d lessons\n", ui.RenderPass("✓"), len(lessons))
		return nil
	},
}

var templateExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the template to a JSON, JSONL or YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		lessons, err := st.GetTemplate(ctx)
		if err != nil {
			return err
		}
		if err := lesson.WriteFile(args[0], lessons); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %d template lessons to %s\n", ui.RenderPass("✓"), len(lessons), args[0])
		return nil
	},
}

var templateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the template",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		lessons, err := st.GetTemplate(ctx)
		if err != nil {
			return err
		}
		if len(lessons) == 0 {
			fmt.Println("The template is empty. Load one with 'lsync template import <file>'.")
			return nil
		}
		fmt.Println(ui.Table(ui.LessonHeaders, ui.LessonRows(lessons)))
		return nil
	},
}

func init() {
	templateImportCmd.Flags().BoolP("yes", "y", false, "Replace without asking")
	templateCmd.AddCommand(templateImportCmd, templateExportCmd, templateShowCmd)
	rootCmd.AddCommand(templateCmd)
}
