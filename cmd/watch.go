package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signal-sink/internal/bus"
	"github.com/sells-group/signal-sink/internal/clipboard"
	"github.com/sells-group/signal-sink/internal/model"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the clipboard and capture every change",
	Long:  "Monitors the system clipboard until interrupted. Each change is deduped and captured with clipboard history, like a copy event in the collector.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sess, err := initSession(ctx, st, bus.New(1))
		if err != nil {
			return err
		}

		board, err := clipboard.NewSystem()
		if err != nil {
			return err
		}
		changes, err := board.Watch(ctx)
		if err != nil {
			return err
		}

		fmt.Println("watching clipboard; ctrl-c to stop")
		for {
			select {
			case <-ctx.Done():
				return nil
			case text, ok := <-changes:
				if !ok {
					return nil
				}
				if text == "" {
					continue
				}
				rec, captured, err := sess.Accept(ctx, model.SourceClipboard, model.TextPayload(text), "")
				if err != nil {
					zap.L().Warn("clipboard capture", zap.Error(err))
					continue
				}
				if captured {
					fmt.Printf("captured %s (%d bytes)\n", rec.ID, rec.Size)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
