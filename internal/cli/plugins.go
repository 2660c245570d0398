package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/harun/openbot/internal/builtins"
	"github.com/harun/openbot/internal/core"
	"github.com/harun/openbot/pkg/plugin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Load plugins once and print the command table",
	Long: `Discover and load every plugin the way the bot would at startup, then
print plugin states, registered commands, name conflicts and failures.`,
	RunE: runPlugins,
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}

func runPlugins(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	catalog := plugin.NewCatalog()
	c, err := core.New(core.Options{
		Config:  cfg,
		Catalog: catalog,
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		return err
	}
	if err := builtins.Register(catalog, c); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = c.Close(context.Background()) }()

	printState(cmd.OutOrStdout(), c.State())
	return nil
}

func printState(out io.Writer, st *core.State) {
	ids := make([]string, 0, len(st.Load.Plugins))
	for id := range st.Load.Plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintln(out, "Plugins:")
	for _, id := range ids {
		lp := st.Load.Plugins[id]
		state := string(lp.State)
		if reason, ok := st.Report.Rejected[id]; ok {
			state = "rejected: " + reason.Error()
		}
		fmt.Fprintf(out, "  %-20s %-10s %s\n", id, lp.Manifest.Version(), state)
		skipped := make([]string, 0, len(lp.Skipped))
		for fn := range lp.Skipped {
			skipped = append(skipped, fn)
		}
		sort.Strings(skipped)
		for _, fn := range skipped {
			fmt.Fprintf(out, "    skipped %s: %s\n", fn, lp.Skipped[fn])
		}
	}

	fmt.Fprintf(out, "\nCommands (%d):\n", st.Table.Len())
	for _, c := range st.Table.Commands() {
		fmt.Fprintf(out, "  %s%s\n", st.Table.Prefix(), st.Table.CallName(c))
	}

	if len(st.Report.Conflicts) > 0 {
		fmt.Fprintln(out, "\nConflicts:")
		for _, conflict := range st.Report.Conflicts {
			fmt.Fprintf(out, "  %s\n", conflict.String())
		}
	}

	if len(st.Load.Failed) > 0 {
		failed := make([]string, 0, len(st.Load.Failed))
		for id := range st.Load.Failed {
			failed = append(failed, id)
		}
		sort.Strings(failed)

		fmt.Fprintln(out, "\nFailed:")
		for _, id := range failed {
			fmt.Fprintf(out, "  %s: %v\n", id, st.Load.Failed[id])
		}
	}
}
