package txaction

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the registered actions",
	Long:  `List the built-in and configured actions in dispatch order with their table rules.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := newRegistry(cfg)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tENTITY\tRULES")
		for _, a := range registry.Actions() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Name, a.Rules.Kind(), a.Entry.Name(), a.Rules)
		}
		return w.Flush()
	},
}
