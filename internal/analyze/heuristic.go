package analyze

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/signal-sink/internal/model"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,6}`)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Heuristic classifies payloads without leaving the process. It recognizes
// common binary formats by magic bytes and common text shapes by structure.
type Heuristic struct{}

// NewHeuristic creates a Heuristic analyzer.
func NewHeuristic() *Heuristic { return &Heuristic{} }

func (h *Heuristic) Analyze(_ context.Context, rec *model.Record) (*model.Annotation, error) {
	if rec.Payload.IsBinary() {
		return h.analyzeBinary(rec.Payload.Bytes()), nil
	}
	text, _ := rec.Payload.Text()
	return h.analyzeText(text), nil
}

func (h *Heuristic) analyzeBinary(data []byte) *model.Annotation {
	head := data
	if len(head) > 4 {
		head = head[:4]
	}
	magic := strings.ToUpper(hex.EncodeToString(head))

	dataType := "Binary Stream"
	switch {
	case strings.HasPrefix(magic, "89504E47"):
		dataType = "PNG Image"
	case strings.HasPrefix(magic, "FFD8FF"):
		dataType = "JPEG Image"
	case strings.HasPrefix(magic, "25504446"):
		dataType = "PDF Document"
	case strings.HasPrefix(magic, "504B0304"):
		dataType = "ZIP Archive"
	}

	return &model.Annotation{
		DataType: dataType,
		Summary:  fmt.Sprintf("Binary blob of %d bytes captured.", len(data)),
		Tags:     []string{"binary", "hex"},
		ExtractedFields: map[string]string{
			"MagicBytes": magic,
			"Size":       strconv.Itoa(len(data)),
		},
		SecurityRisk: RiskLow,
		GeoEstimate:  "Local/System",
	}
}

func (h *Heuristic) analyzeText(raw string) *model.Annotation {
	text := strings.TrimSpace(raw)
	ann := &model.Annotation{
		DataType:        "Unknown Data",
		Summary:         "Data received by system core.",
		Tags:            []string{"raw", "unprocessed"},
		ExtractedFields: map[string]string{},
		SecurityRisk:    RiskLow,
		GeoEstimate:     "Local/System",
	}

	// Query strings carry '=' but none of the structure characters that
	// show up in code or JSON.
	if strings.Contains(text, "=") && !strings.ContainsAny(text, "\n{}") {
		if params, err := url.ParseQuery(text); err == nil && len(params) > 0 {
			ann.DataType = "URL Parameters"
			ann.Summary = fmt.Sprintf("Parsed %d key-value pair(s) from query string.", len(params))
			ann.Tags = []string{"url-params", "structured", "key-value"}
			for k, vs := range params {
				ann.ExtractedFields[k] = vs[0]
			}
			for _, sensitive := range []string{"password", "token", "key", "secret"} {
				if params.Has(sensitive) {
					ann.SecurityRisk = RiskHigh
					ann.Tags = append(ann.Tags, "credentials")
					break
				}
			}
			ann.GeoEstimate = "System"
			return ann
		}
	}

	lower := strings.ToLower(text)
	switch {
	case looksLikeJSON(text):
		h.classifyJSON(text, ann)
	case strings.Contains(text, "function") || strings.Contains(text, "const ") ||
		strings.Contains(text, "import ") || strings.Contains(text, "class "):
		ann.DataType = "Source Code"
		ann.Summary = "Executable code snippet detected."
		ann.Tags = []string{"code", "script", "executable"}
		if strings.Contains(text, "react") {
			ann.Tags = append(ann.Tags, "react")
		}
		if strings.Contains(text, "import") {
			ann.Tags = append(ann.Tags, "module")
		}
		ann.SecurityRisk = RiskMedium
	case strings.Contains(lower, "select") && strings.Contains(lower, "from"):
		ann.DataType = "SQL Query"
		ann.Summary = "Database query statement."
		ann.Tags = []string{"database", "sql"}
		ann.SecurityRisk = RiskMedium
	case strings.Contains(text, "http://") || strings.Contains(text, "https://"):
		ann.DataType = "URL List / Link"
		ann.Summary = "Content contains web identifiers."
		ann.Tags = []string{"url", "web"}
		if m := urlPattern.FindString(text); m != "" {
			ann.ExtractedFields["URL Found"] = m
		} else {
			ann.ExtractedFields["URL Found"] = "Multiple"
		}
	case emailPattern.MatchString(text):
		ann.DataType = "PII / Email List"
		ann.Summary = "Potential personal identifiable information detected."
		ann.Tags = []string{"email", "privacy-risk"}
		ann.SecurityRisk = RiskHigh
		matches := emailPattern.FindAllString(text, -1)
		ann.ExtractedFields["Email Count"] = strconv.Itoa(len(matches))
		if len(matches) > 3 {
			matches = matches[:3]
		}
		ann.ExtractedFields["Samples"] = strings.Join(matches, ", ")
	default:
		ann.DataType = "Plain Text"
		ann.Summary = fmt.Sprintf("Text payload of %d characters.", len(text))
		ann.Tags = []string{"text"}
	}

	// Credential words raise the risk no matter how the payload classified.
	if strings.Contains(lower, "password") || strings.Contains(lower, "key") ||
		strings.Contains(lower, "secret") {
		ann.SecurityRisk = RiskHigh
		ann.Tags = append(ann.Tags, "credential-risk")
	}
	return ann
}

func (h *Heuristic) classifyJSON(text string, ann *model.Annotation) {
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		ann.DataType = "Malformed JSON"
		return
	}

	switch v := value.(type) {
	case []any:
		ann.DataType = "JSON Array"
		ann.Summary = "Structured JSON data payload."
		ann.Tags = []string{"json", "data-structure"}
		ann.ExtractedFields["Array Length"] = strconv.Itoa(len(v))
		if len(v) > 0 {
			sample, _ := json.Marshal(v[0])
			ann.ExtractedFields["Sample"] = clip(string(sample), 50)
		}
	case map[string]any:
		ann.DataType = "JSON Object"
		ann.Summary = "Structured JSON data payload."
		ann.Tags = []string{"json", "data-structure"}
		for k, val := range v {
			switch tv := val.(type) {
			case map[string]any, []any:
				encoded, _ := json.Marshal(tv)
				ann.ExtractedFields[k] = clip(string(encoded), 50)
			default:
				ann.ExtractedFields[k] = fmt.Sprint(tv)
			}
		}
	default:
		ann.DataType = "Malformed JSON"
	}
}

func looksLikeJSON(text string) bool {
	return (strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}")) ||
		(strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]"))
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
