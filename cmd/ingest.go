package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signal-sink/internal/bus"
	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/internal/relay"
	"github.com/sells-group/signal-sink/internal/store"
)

var (
	ingestLabel string
	ingestFile  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [text]",
	Short: "Capture a payload directly",
	Long:  "Captures text from the argument, a file (--file) or stdin into the record store, running dedup, retention and analysis exactly like the collector would.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		source := model.SourceManualInput
		var payload model.Payload
		switch {
		case ingestFile != "":
			data, err := os.ReadFile(ingestFile)
			if err != nil {
				return eris.Wrapf(err, "read %s", ingestFile)
			}
			payload = model.PayloadFromBytes(data)
			source = model.SourceFileDrop
			if ingestLabel == "" {
				ingestLabel = filepath.Base(ingestFile)
			}
		case len(args) == 1 && args[0] != "-":
			payload = model.TextPayload(args[0])
		default:
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return eris.Wrap(err, "read stdin")
			}
			if len(data) == 0 {
				return eris.New("no payload: pass text, --file or pipe stdin")
			}
			payload = model.PayloadFromBytes(data)
		}

		rec, err := captureOnce(ctx, st, source, payload, ingestLabel)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("duplicate: payload already captured")
			return nil
		}
		fmt.Printf("captured %s (%s, %d bytes)\n", rec.ID, rec.Source, rec.Size)
		if rec.Annotation != nil {
			fmt.Printf("classified as %s, risk %s\n", rec.Annotation.DataType, rec.Annotation.SecurityRisk)
		}
		return nil
	},
}

// captureOnce runs one payload through a throwaway session and, when
// auto-analyze is on, classifies it synchronously before returning.
func captureOnce(ctx context.Context, st store.Store, source model.Source, payload model.Payload, label string) (*model.Record, error) {
	settings, err := loadSettings(ctx, st)
	if err != nil {
		return nil, err
	}
	sess, err := relay.NewSession(st, bus.New(1), settings, relay.Config{
		DedupCacheSize: cfg.Ingest.DedupCacheSize,
		LogCap:         cfg.Ingest.LogCap,
		ClipboardCap:   cfg.Ingest.ClipboardCap,
	})
	if err != nil {
		return nil, err
	}
	// Each invocation starts with an empty seen set; seed it from the store
	// so a re-run of the same payload is reported as a duplicate.
	if err := sess.Prime(ctx); err != nil {
		return nil, err
	}

	rec, captured, err := sess.Accept(ctx, source, payload, label)
	if err != nil {
		return nil, err
	}
	if !captured {
		return nil, nil
	}

	if settings.AutoAnalyze {
		analyzer, err := initAnalyzer()
		if err != nil {
			return nil, err
		}
		if err := st.SetRecordStatus(ctx, rec.ID, model.StatusAnalyzing); err != nil {
			return nil, err
		}
		ann, err := analyzer.Analyze(ctx, rec)
		if err != nil {
			zap.L().Warn("analysis failed", zap.String("id", rec.ID), zap.Error(err))
			if serr := st.SetRecordStatus(ctx, rec.ID, model.StatusError); serr != nil {
				return nil, serr
			}
			return rec, nil
		}
		if err := st.SetRecordAnnotation(ctx, rec.ID, model.StatusAnalyzed, ann); err != nil {
			return nil, err
		}
		rec.Status = model.StatusAnalyzed
		rec.Annotation = ann
	}
	return rec, nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestLabel, "label", "", "display label for the record")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "capture a file instead of text")
	rootCmd.AddCommand(ingestCmd)
}
