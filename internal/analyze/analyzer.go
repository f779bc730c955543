// Package analyze classifies captured payloads. A fast local heuristic
// covers the common shapes; the Claude analyzer handles anything the
// heuristics cannot name.
package analyze

import (
	"context"

	"github.com/sells-group/signal-sink/internal/model"
)

// Risk levels reported in annotations.
const (
	RiskLow      = "Low"
	RiskMedium   = "Medium"
	RiskHigh     = "High"
	RiskCritical = "Critical"
	RiskUnknown  = "Unknown"
)

// Analyzer classifies one record's payload.
type Analyzer interface {
	Analyze(ctx context.Context, rec *model.Record) (*model.Annotation, error)
}
