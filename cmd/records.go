package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-sink/internal/export"
	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/internal/store"
)

var (
	listSource string
	listStatus string
	listSearch string
	listLimit  int
	listOffset int

	exportFormat string
	exportOut    string

	purgeYes bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect and manage captured records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		records, err := st.ListRecords(ctx, store.RecordFilter{
			Source: model.Source(listSource),
			Status: model.Status(listStatus),
			Search: listSearch,
			Limit:  listLimit,
			Offset: listOffset,
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no records")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCAPTURED\tSOURCE\tSTATUS\tSIZE\tTYPE\tPREVIEW")
		for i := range records {
			rec := &records[i]
			dataType := ""
			if rec.Annotation != nil {
				dataType = rec.Annotation.DataType
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				rec.ID[:8],
				rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				rec.Source,
				rec.Status,
				rec.Size,
				dataType,
				strings.ReplaceAll(rec.Payload.Preview(48), "\n", " "),
			)
		}
		return w.Flush()
	},
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one record in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := findRecord(ctx, st, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:       %s\n", rec.ID)
		fmt.Printf("Captured: %s\n", rec.CreatedAt.Local().Format(time.RFC3339))
		fmt.Printf("Source:   %s\n", rec.Source)
		fmt.Printf("Status:   %s\n", rec.Status)
		fmt.Printf("Size:     %d bytes\n", rec.Size)
		if rec.Label != "" {
			fmt.Printf("Label:    %s\n", rec.Label)
		}
		if rec.Origin != nil {
			fmt.Printf("Origin:   %s (%s)\n", rec.Origin.Host, rec.Origin.Platform)
		}
		if ann := rec.Annotation; ann != nil {
			fmt.Printf("\nType:     %s\n", ann.DataType)
			fmt.Printf("Summary:  %s\n", ann.Summary)
			fmt.Printf("Risk:     %s\n", ann.SecurityRisk)
			if len(ann.Tags) > 0 {
				fmt.Printf("Tags:     %s\n", strings.Join(ann.Tags, ", "))
			}
			for k, v := range ann.ExtractedFields {
				fmt.Printf("  %s: %s\n", k, v)
			}
		}
		fmt.Printf("\n%s\n", rec.Payload.Preview(2048))
		return nil
	},
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := findRecord(ctx, st, args[0])
		if err != nil {
			return err
		}
		if err := st.DeleteRecord(ctx, rec.ID); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", rec.ID)
		return nil
	},
}

var recordsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every record",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !purgeYes {
			return eris.New("refusing to purge without --yes")
		}
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.CountRecords(ctx)
		if err != nil {
			return err
		}
		if err := st.DeleteAllRecords(ctx); err != nil {
			return err
		}
		fmt.Printf("purged %d record(s)\n", n)
		return nil
	},
}

var recordsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all records",
	Long:  "Writes every record to stdout or --out. JSON round-trips losslessly through import; YAML and XLSX are for reading.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		records, err := st.ListRecords(ctx, store.RecordFilter{Limit: -1})
		if err != nil {
			return err
		}
		env := export.NewEnvelope(records)

		out := os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", exportOut)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		switch exportFormat {
		case "json", "":
			err = export.WriteJSON(out, env)
		case "yaml":
			err = export.WriteYAML(out, env)
		case "xlsx":
			if exportOut == "" {
				return eris.New("xlsx export requires --out")
			}
			err = export.WriteXLSX(out, env)
		default:
			return eris.Errorf("unsupported format: %s", exportFormat)
		}
		if err != nil {
			return err
		}
		if exportOut != "" {
			fmt.Printf("exported %d record(s) to %s\n", len(records), exportOut)
		}
		return nil
	},
}

var recordsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import records from a JSON export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close() //nolint:errcheck

		env, err := export.ReadJSON(f)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		settings, err := loadSettings(ctx, st)
		if err != nil {
			return err
		}

		imported := 0
		for i := range env.Records {
			rec := &env.Records[i]
			if existing, err := st.GetRecord(ctx, rec.ID); err != nil {
				return err
			} else if existing != nil {
				continue
			}
			if _, err := st.AppendRecord(ctx, rec, settings.MaxRetention); err != nil {
				return eris.Wrapf(err, "import record %s", rec.ID)
			}
			imported++
		}
		fmt.Printf("imported %d of %d record(s)\n", imported, len(env.Records))
		return nil
	},
}

// findRecord resolves a full or prefix record ID.
func findRecord(ctx context.Context, st store.Store, id string) (*model.Record, error) {
	rec, err := st.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}

	// Prefix match against recent records.
	records, err := st.ListRecords(ctx, store.RecordFilter{Limit: -1})
	if err != nil {
		return nil, err
	}
	var match *model.Record
	for i := range records {
		if strings.HasPrefix(records[i].ID, id) {
			if match != nil {
				return nil, eris.Errorf("ambiguous id prefix %q", id)
			}
			match = &records[i]
		}
	}
	if match == nil {
		return nil, eris.Errorf("no record with id %q", id)
	}
	return match, nil
}

func init() {
	recordsListCmd.Flags().StringVar(&listSource, "source", "", "filter by source")
	recordsListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	recordsListCmd.Flags().StringVar(&listSearch, "search", "", "substring match on text payloads")
	recordsListCmd.Flags().IntVar(&listLimit, "limit", 50, "max records")
	recordsListCmd.Flags().IntVar(&listOffset, "offset", 0, "skip records")

	recordsExportCmd.Flags().StringVar(&exportFormat, "format", "json", "json, yaml or xlsx")
	recordsExportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default stdout)")

	recordsPurgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "confirm the purge")

	recordsCmd.AddCommand(recordsListCmd, recordsShowCmd, recordsDeleteCmd,
		recordsPurgeCmd, recordsExportCmd, recordsImportCmd)
	rootCmd.AddCommand(recordsCmd)
}
