package cli

import (
	"fmt"

	"github.com/harun/openbot/internal/daemon"
	"github.com/spf13/cobra"
)

var runConsole bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot in the foreground",
	Long: `Run the bot in the foreground until SIGINT, SIGTERM or the
shutdown command. With --console commands are read from standard input
and replies written to standard output instead of Telegram.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runConsole, "console", false, "read commands from stdin instead of Telegram")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	pidFile := daemon.PIDFile(cfg.DataDir)
	if daemon.IsRunning(pidFile) {
		return fmt.Errorf("bot is already running (PID file: %s)", pidFile)
	}

	log, err := newLogger(cfg, runConsole)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.Options{
		Console: runConsole,
		In:      cmd.InOrStdin(),
		Out:     cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		_ = d.Stop()
		return err
	}
	return d.Wait()
}
