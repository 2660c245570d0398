package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/harun/openbot/internal/daemon"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bot status",
	Long:  `Show whether the bot is running, its PID and uptime.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	printStatus(cmd, daemon.PIDFile(cfg.DataDir))
	fmt.Fprintf(cmd.OutOrStdout(), "Config: %s\n", cfg.ConfigFile)
	fmt.Fprintf(cmd.OutOrStdout(), "Plugins: %s\n", cfg.PluginsDir)
	return nil
}

func printStatus(cmd *cobra.Command, pidFile string) {
	out := cmd.OutOrStdout()
	pid, err := daemon.ReadPID(pidFile)
	if err != nil || !daemon.Alive(pid) {
		fmt.Fprintln(out, "Status: stopped")
		return
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	// the PID file is written at startup
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
