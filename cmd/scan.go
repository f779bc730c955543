package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/signal-sink/internal/bus"
	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/internal/relay"
	"github.com/sells-group/signal-sink/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan <url>...",
	Short: "Extract payloads from URL query parameters",
	Long:  "Scans each URL's query string through the allow/deny filter and alias table, then folds the captures into the record store.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hub := bus.New(1)
		sess, err := initSession(ctx, st, hub)
		if err != nil {
			return err
		}

		bc := relay.NewBroadcaster(hub, st)
		sc := scanner.New(bc, func() model.Settings { return sess.Settings() })

		found := 0
		for _, raw := range args {
			n, err := sc.ScanURL(ctx, raw)
			if err != nil {
				return err
			}
			found += n
		}

		// Captures went to staging (no live session); fold them in now.
		accepted, err := sess.Drain(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("scanned %d url(s): %d parameter(s) found, %d new record(s)\n",
			len(args), found, accepted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
