package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-sink/internal/model"
)

var (
	setRetention   int
	setAutoAnalyze string
	setAutoScan    string
	setFilters     string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and change the persisted ingestion settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		s, err := loadSettings(ctx, st)
		if err != nil {
			return err
		}

		retention := "unlimited"
		if s.MaxRetention > 0 {
			retention = fmt.Sprintf("%d", s.MaxRetention)
		}
		fmt.Printf("max retention:  %s\n", retention)
		fmt.Printf("auto analyze:   %v\n", s.AutoAnalyze)
		fmt.Printf("auto scan:      %v\n", s.AutoScanParams)
		fmt.Printf("filters:        %v\n", s.FiltersEnabled)
		if len(s.AllowedKeys) > 0 {
			fmt.Printf("allowed keys:   %s\n", strings.Join(s.AllowedKeys, ", "))
		}
		if len(s.DeniedKeys) > 0 {
			fmt.Printf("denied keys:    %s\n", strings.Join(s.DeniedKeys, ", "))
		}
		for key, alias := range s.ParameterAliases {
			fmt.Printf("alias:          %s -> %s\n", key, alias)
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change settings",
	Long:  "Changes one or more settings. Boolean flags take true or false; --max-retention takes a count or -1 for unlimited.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		s, err := loadSettings(ctx, st)
		if err != nil {
			return err
		}

		changed := false
		if cmd.Flags().Changed("max-retention") {
			if setRetention == 0 || setRetention < -1 {
				return eris.New("max-retention must be positive or -1 for unlimited")
			}
			s.MaxRetention = setRetention
			changed = true
		}
		for _, opt := range []struct {
			raw    string
			target *bool
			name   string
		}{
			{setAutoAnalyze, &s.AutoAnalyze, "auto-analyze"},
			{setAutoScan, &s.AutoScanParams, "auto-scan"},
			{setFilters, &s.FiltersEnabled, "filters"},
		} {
			if opt.raw == "" {
				continue
			}
			switch opt.raw {
			case "true":
				*opt.target = true
			case "false":
				*opt.target = false
			default:
				return eris.Errorf("--%s takes true or false", opt.name)
			}
			changed = true
		}
		if !changed {
			return eris.New("nothing to change")
		}

		if err := st.SetSettings(ctx, s); err != nil {
			return err
		}
		fmt.Println("settings updated")
		return nil
	},
}

var settingsAllowCmd = &cobra.Command{
	Use:   "allow <key>...",
	Short: "Add keys to the scanner allow-list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateKeyList(cmd, args, func(s *model.Settings, key string) {
			if !slices.Contains(s.AllowedKeys, key) {
				s.AllowedKeys = append(s.AllowedKeys, key)
			}
		})
	},
}

var settingsDenyCmd = &cobra.Command{
	Use:   "deny <key>...",
	Short: "Add keys to the scanner deny-list (deny wins over allow)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateKeyList(cmd, args, func(s *model.Settings, key string) {
			if !slices.Contains(s.DeniedKeys, key) {
				s.DeniedKeys = append(s.DeniedKeys, key)
			}
		})
	},
}

var settingsAliasCmd = &cobra.Command{
	Use:   "alias <key> <alias>",
	Short: "Set a display alias for a query parameter key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateKeyList(cmd, args[:1], func(s *model.Settings, key string) {
			if s.ParameterAliases == nil {
				s.ParameterAliases = map[string]string{}
			}
			s.ParameterAliases[key] = args[1]
		})
	},
}

func updateKeyList(cmd *cobra.Command, keys []string, apply func(*model.Settings, string)) error {
	ctx := cmd.Context()
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	s, err := loadSettings(ctx, st)
	if err != nil {
		return err
	}
	for _, key := range keys {
		apply(s, key)
	}
	if err := st.SetSettings(ctx, s); err != nil {
		return err
	}
	fmt.Println("settings updated")
	return nil
}

func init() {
	settingsSetCmd.Flags().IntVar(&setRetention, "max-retention", 0, "record cap (-1 for unlimited)")
	settingsSetCmd.Flags().StringVar(&setAutoAnalyze, "auto-analyze", "", "true or false")
	settingsSetCmd.Flags().StringVar(&setAutoScan, "auto-scan", "", "true or false")
	settingsSetCmd.Flags().StringVar(&setFilters, "filters", "", "true or false")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsAllowCmd,
		settingsDenyCmd, settingsAliasCmd)
	rootCmd.AddCommand(settingsCmd)
}
