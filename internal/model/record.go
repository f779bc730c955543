package model

import "time"

// Source tags the delivery vector a signal arrived through.
type Source string

const (
	SourceClipboard     Source = "clipboard"
	SourceFileDrop      Source = "file_drop"
	SourceWindowMessage Source = "window_message"
	SourceURLParam      Source = "url_param"
	SourceManualInput   Source = "manual_input"
	SourceBroadcast     Source = "broadcast"
	SourceGlobalAPI     Source = "global_api"
	SourceStealthBeacon Source = "stealth_beacon"
	SourceProxyRelay    Source = "background_proxy"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusRaw       Status = "raw"
	StatusAnalyzing Status = "analyzing"
	StatusAnalyzed  Status = "analyzed"
	StatusError     Status = "error"
)

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. The only permitted path is raw → analyzing → {analyzed, error}.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusRaw:
		return next == StatusAnalyzing
	case StatusAnalyzing:
		return next == StatusAnalyzed || next == StatusError
	default:
		return false
	}
}

// Record is one unit of ingested data with its metadata and optional
// annotation.
type Record struct {
	ID         string      `json:"id"`
	CreatedAt  time.Time   `json:"created_at"`
	Source     Source      `json:"source"`
	Payload    Payload     `json:"payload"`
	Size       int         `json:"size"`
	Label      string      `json:"label,omitempty"`
	Status     Status      `json:"status"`
	Annotation *Annotation `json:"annotation,omitempty"`
	Origin     *OriginMeta `json:"origin,omitempty"`
}

// Annotation is the analysis collaborator's classification of a record,
// attached asynchronously after creation.
type Annotation struct {
	DataType        string            `json:"data_type"`
	Summary         string            `json:"summary"`
	Tags            []string          `json:"tags"`
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`
	SecurityRisk    string            `json:"security_risk,omitempty"`
	GeoEstimate     string            `json:"geo_estimate,omitempty"`
}

// OriginMeta records where a signal physically came from, to the extent a
// server-side process can tell.
type OriginMeta struct {
	Host       string `json:"host,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// StagingEntry is a payload held durably while no foreground context was
// confirmed reachable. It is deleted once handed off to the record store.
type StagingEntry struct {
	ID         string      `json:"id"`
	Payload    Payload     `json:"payload"`
	Source     Source      `json:"source"`
	Label      string      `json:"label,omitempty"`
	Origin     *OriginMeta `json:"origin,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// LogLevel classifies activity log entries.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
	LogTraffic LogLevel = "traffic"
)

// LogEntry is one line of the capped activity log.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
}

// ClipboardEntry is one line of the capped clipboard history.
type ClipboardEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
