package model

// Settings is the user-editable ingestion configuration. It is loaded once
// at startup from the durable store (falling back to file config defaults)
// and persisted on every change.
type Settings struct {
	// MaxRetention caps the record count; -1 means unlimited.
	MaxRetention int `json:"max_retention"`
	// AutoAnalyze schedules the analysis collaborator for every new record.
	AutoAnalyze bool `json:"auto_analyze"`
	// AutoScanParams ingests every non-reserved URL query parameter.
	AutoScanParams bool `json:"auto_scan_params"`
	// ParameterAliases maps a query key to a display alias.
	ParameterAliases map[string]string `json:"parameter_aliases,omitempty"`
	// FiltersEnabled turns the allow/deny key filter on.
	FiltersEnabled bool `json:"filters_enabled"`
	// AllowedKeys, when non-empty, restricts scanning to these keys.
	AllowedKeys []string `json:"allowed_keys,omitempty"`
	// DeniedKeys are always rejected; deny wins over allow.
	DeniedKeys []string `json:"denied_keys,omitempty"`
}

// DefaultSettings mirrors the defaults seeded on first launch.
func DefaultSettings() *Settings {
	return &Settings{
		MaxRetention:     1000,
		AutoAnalyze:      true,
		AutoScanParams:   true,
		ParameterAliases: map[string]string{},
	}
}

// KeyAllowed applies the allow/deny filter to a query parameter key.
// Deny takes precedence; an empty allow-list means "allow all not denied".
func (s *Settings) KeyAllowed(key string) bool {
	if !s.FiltersEnabled {
		return true
	}
	for _, k := range s.DeniedKeys {
		if k == key {
			return false
		}
	}
	if len(s.AllowedKeys) == 0 {
		return true
	}
	for _, k := range s.AllowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// DisplayLabel resolves the display label for a query key, applying any
// configured alias.
func (s *Settings) DisplayLabel(key string) string {
	if alias, ok := s.ParameterAliases[key]; ok && alias != "" {
		return alias + " (" + key + ")"
	}
	return key
}
