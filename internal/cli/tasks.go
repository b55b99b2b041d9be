package cli

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/mcpbench/mcpbench/internal/task"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks <file> [instance-id]",
	Short: "List the tasks in a benchmark export, or show one in full",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := task.LoadFile(args[0])
		if err != nil {
			return err
		}

		if len(args) == 2 {
			t, err := task.Resolve(tasks, args[1])
			if err != nil {
				return err
			}
			fmt.Print(taskDetail(t))
			return nil
		}

		fmt.Printf("%d tasks in %s\n\n", len(tasks), args[0])
		for _, t := range tasks {
			fmt.Printf("  %-40s %s\n", t.InstanceID, oneLine(t.ProblemStatement, 70))
		}
		return nil
	},
}

// taskDetail renders one task for `tasks <file> <instance-id>`.
func taskDetail(t *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instance:     %s\n", t.InstanceID)
	if t.Repo != "" {
		fmt.Fprintf(&b, "Repo:         %s\n", t.Repo)
	}
	if t.BaseCommit != "" {
		fmt.Fprintf(&b, "Base commit:  %s\n", t.BaseCommit)
	}
	if len(t.FailToPass) > 0 {
		fmt.Fprintf(&b, "Fail to pass: %s\n", strings.Join(t.FailToPass, ", "))
	}
	if len(t.PassToPass) > 0 {
		fmt.Fprintf(&b, "Pass to pass: %s\n", strings.Join(t.PassToPass, ", "))
	}
	fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(t.ProblemStatement))
	return b.String()
}

// oneLine collapses text to a single truncated line.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
