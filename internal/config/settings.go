package config

import "github.com/sells-group/signal-sink/internal/model"

// SeedSettings builds the initial user-editable settings from file config.
// Used only when the durable store holds no persisted settings yet.
func (c *Config) SeedSettings() *model.Settings {
	aliases := c.Scanner.ParameterAliases
	if aliases == nil {
		aliases = map[string]string{}
	}
	return &model.Settings{
		MaxRetention:     c.Ingest.MaxRetention,
		AutoAnalyze:      c.Ingest.AutoAnalyze,
		AutoScanParams:   c.Scanner.AutoScan,
		ParameterAliases: aliases,
		FiltersEnabled:   c.Scanner.FiltersEnabled,
		AllowedKeys:      c.Scanner.AllowedKeys,
		DeniedKeys:       c.Scanner.DeniedKeys,
	}
}
