package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"backforge/internal/spec"
	"backforge/internal/tools"
)

// tasksCmd lists the task catalog
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List catalog tasks and their defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printTasks(cmd.OutOrStdout(), spec.DefaultCatalog())
		return nil
	},
}

// toolsCmd lists the vetted helpers
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the kb helpers candidates may call",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printTools(cmd.OutOrStdout(), tools.DefaultRegistry())
		return nil
	},
}

func printTasks(w io.Writer, c spec.Catalog) {
	for _, name := range c.Names() {
		t, _ := c.Template(name)
		fmt.Fprintln(w, titleStyle.Render(name)+" "+dimStyle.Render(t.Description))
		fmt.Fprintf(w, "  universe=%s frequency=%s tools=%s\n",
			strings.Join(t.Universe, ","), t.Frequency, strings.Join(t.Tools, ","))
		if len(t.Params) > 0 {
			fmt.Fprintf(w, "  params=%v\n", t.Params)
		}
	}
}

func printTools(w io.Writer, r *tools.Registry) {
	for _, d := range r.All() {
		fmt.Fprintf(w, "%s %s\n  %s\n", labelStyle.Render(d.Name), d.Ref(), dimStyle.Render(d.Description))
	}
}
