package cli

import (
	"encoding/json"
	"fmt"

	"github.com/harun/openbot/internal/config"
	"github.com/harun/openbot/pkg/configtree"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the bot configuration tree",
}

var configReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Merge defaults into the persisted configuration and save it",
	Long: `Load the persisted configuration tree, add every missing default key,
pin core.version to the running version and write the result back.`,
	Args: cobra.NoArgs,
	RunE: runConfigReconcile,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one dotted key of the configuration tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

func init() {
	configCmd.AddCommand(configReconcileCmd)
	configCmd.AddCommand(configGetCmd)
	rootCmd.AddCommand(configCmd)
}

func openTree() (*configtree.Store, configtree.Result, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, configtree.Result{}, err
	}
	store := configtree.Open(cfg.ConfigFile, zerolog.Nop())
	res, err := store.Load(config.DefaultTree(config.Version))
	return store, res, err
}

func runConfigReconcile(cmd *cobra.Command, args []string) error {
	store, res, err := openTree()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !res.Changed {
		fmt.Fprintf(out, "%s is up to date\n", store.Path())
		return nil
	}
	fmt.Fprintf(out, "Updated %s\n", store.Path())
	for _, key := range res.Added {
		fmt.Fprintf(out, "  added %s\n", key)
	}
	for _, key := range res.Mismatched {
		fmt.Fprintf(out, "  shape mismatch %s (kept)\n", key)
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	store, _, err := openTree()
	if err != nil {
		return err
	}

	value, ok := store.Get(args[0])
	if !ok {
		return fmt.Errorf("key %q not found", args[0])
	}
	if s, ok := value.(string); ok {
		fmt.Fprintln(cmd.OutOrStdout(), s)
		return nil
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
