package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signal-sink/internal/model"
)

var beaconURL string

var beaconCmd = &cobra.Command{
	Use:   "beacon [text]",
	Short: "Fire a payload at a running collector",
	Long:  "Sends a payload to the collector's beacon endpoint, falling back to the tracking pixel and finally to a direct staging enqueue against the shared store when the collector is unreachable.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var text string
		if len(args) == 1 && args[0] != "-" {
			text = args[0]
		} else {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return eris.Wrap(err, "read stdin")
			}
			text = string(data)
		}
		if strings.TrimSpace(text) == "" {
			return eris.New("no payload: pass text or pipe stdin")
		}

		base := beaconURL
		if base == "" {
			base = cfg.Server.BaseURL
		}
		if base == "" {
			base = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}
		base = strings.TrimRight(base, "/")

		client := &http.Client{Timeout: 5 * time.Second}

		// Primary channel: the beacon endpoint.
		resp, err := client.Post(base+"/ingest-signal", "text/plain", strings.NewReader(text))
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				fmt.Println("delivered via beacon")
				return nil
			}
			zap.L().Warn("beacon endpoint refused", zap.Int("status", resp.StatusCode))
		} else {
			zap.L().Debug("beacon endpoint unreachable", zap.Error(err))
		}

		// Secondary channel: the tracking pixel.
		pixel := base + "/ping.gif?payload=" + url.QueryEscape(text)
		resp, err = client.Get(pixel)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				fmt.Println("delivered via pixel")
				return nil
			}
		}

		// Last resort: write straight into the staging queue.
		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "collector unreachable and store unavailable")
		}
		defer st.Close() //nolint:errcheck

		entry := &model.StagingEntry{
			ID:         uuid.New().String(),
			Payload:    model.TextPayload(text),
			Source:     model.SourceStealthBeacon,
			EnqueuedAt: time.Now().UTC(),
		}
		if err := st.EnqueueStaging(ctx, entry); err != nil {
			return err
		}
		fmt.Println("collector unreachable; payload staged for next drain")
		return nil
	},
}

func init() {
	beaconCmd.Flags().StringVar(&beaconURL, "url", "", "collector base URL (default from config)")
	rootCmd.AddCommand(beaconCmd)
}
