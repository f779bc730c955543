package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/signal-sink/internal/bus"
	"github.com/sells-group/signal-sink/internal/model"
)

var statusLogs int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store counts and recent activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sess, err := initSession(ctx, st, bus.New(1))
		if err != nil {
			return err
		}
		status, err := sess.Status(ctx)
		if err != nil {
			return err
		}
		settings := sess.Settings()

		fmt.Printf("records:   %d", status.Records)
		if settings.MaxRetention > 0 {
			fmt.Printf(" / %d", settings.MaxRetention)
		}
		fmt.Println()
		fmt.Printf("staged:    %d\n", status.Staged)
		fmt.Printf("analysis:  auto=%v provider=%s\n", settings.AutoAnalyze, cfg.Analyzer.Provider)
		fmt.Printf("scanning:  auto=%v filters=%v\n", settings.AutoScanParams, settings.FiltersEnabled)

		if statusLogs > 0 {
			logs, err := st.ListLogs(ctx, statusLogs)
			if err != nil {
				return err
			}
			if len(logs) > 0 {
				fmt.Println("\nrecent activity:")
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				for _, entry := range logs {
					detail := entry.Detail
					if detail != "" {
						detail = " (" + detail + ")"
					}
					fmt.Fprintf(w, "%s\t%s\t%s%s\n",
						entry.Timestamp.Local().Format("15:04:05"),
						levelGlyph(entry.Level),
						entry.Message,
						detail,
					)
				}
				w.Flush() //nolint:errcheck
			}
		}
		return nil
	},
}

func levelGlyph(level model.LogLevel) string {
	switch level {
	case model.LogSuccess:
		return "ok"
	case model.LogWarning:
		return "warn"
	case model.LogError:
		return "err"
	case model.LogTraffic:
		return "net"
	default:
		return "info"
	}
}

func init() {
	statusCmd.Flags().IntVar(&statusLogs, "logs", 10, "recent activity entries to show (0 disables)")
	rootCmd.AddCommand(statusCmd)
}
