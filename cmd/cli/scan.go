package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// scanCmd represents the one-shot scan command.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan pass over all configured targets",
	Long: `Sweep every configured target once, identify services on the
discovered ports, update history, and send full per-target summaries
to the notification channel, including targets with no open ports.`,
	Example: `  vk-masscan scan
  vk-masscan scan --config /etc/vk-masscan/config.yaml`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := buildApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := application.scheduler.RunOnce(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Scan %s complete: %d target(s), %d open port(s), %d new, %d changed, %s\n",
		summary.RunID, summary.TargetsScanned, summary.PortsObserved,
		summary.NewPorts, summary.ChangedServices, summary.Elapsed.Round(time.Millisecond))
	return nil
}
