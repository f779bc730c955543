package analyze

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/pkg/anthropic"
)

const maxPromptChars = 80_000

const claudeSystemPrompt = `You classify arbitrary captured data packets. Accept any content: secrets, private keys, database dumps, unstructured noise. Respond with a single JSON object and nothing else:
{
  "data_type": "specific classification, e.g. JWT Token, Python Traceback, SQL Dump",
  "summary": "factual one-sentence description, no judgment",
  "extracted_fields": {"up to 5 key-value pairs or entities": "..."},
  "tags": ["3-5 keywords"],
  "security_risk": "Low|Medium|High|Critical based on credential exposure or system impact",
  "geo_estimate": "approximate origin if IP/locale/timezone found, else Unknown"
}`

// Claude classifies payloads through the Anthropic API.
type Claude struct {
	client anthropic.Client
	model  string
}

// NewClaude creates a Claude analyzer.
func NewClaude(client anthropic.Client, model string) *Claude {
	return &Claude{client: client, model: model}
}

func (c *Claude) Analyze(ctx context.Context, rec *model.Record) (*model.Annotation, error) {
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.SystemBlock{{
			Text:         claudeSystemPrompt,
			CacheControl: &anthropic.CacheControl{TTL: "5m"},
		}},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: buildUserPrompt(rec),
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "analyze: claude request")
	}
	resp.Usage.LogCost(c.model, "analysis")

	ann, err := parseAnnotation(resp.Text())
	if err != nil {
		return nil, err
	}
	return ann, nil
}

func buildUserPrompt(rec *model.Record) string {
	var content, hint string
	if rec.Payload.IsBinary() {
		data := rec.Payload.Bytes()
		preview := data
		if len(preview) > 512 {
			preview = preview[:512]
		}
		content = fmt.Sprintf("[BINARY DATA - %d bytes]\nHex preview:\n%s", len(data), hex.EncodeToString(preview))
		hint = "Raw binary dump. Detect the file format via magic bytes."
	} else {
		content, _ = rec.Payload.Text()
		if len(content) > maxPromptChars {
			content = content[:maxPromptChars] + "...(truncated)"
		}
		hint = "Text, code or structured data."
	}

	return fmt.Sprintf("Vector source: %q\nData type hint: %s\n\nData content:\n```\n%s\n```",
		rec.Source, hint, content)
}

// claudeResult mirrors the JSON shape the system prompt asks for.
type claudeResult struct {
	DataType        string            `json:"data_type"`
	Summary         string            `json:"summary"`
	ExtractedFields map[string]string `json:"extracted_fields"`
	Tags            []string          `json:"tags"`
	SecurityRisk    string            `json:"security_risk"`
	GeoEstimate     string            `json:"geo_estimate"`
}

// parseAnnotation accepts the model's reply with or without a code fence.
func parseAnnotation(reply string) (*model.Annotation, error) {
	text := strings.TrimSpace(reply)
	if after, found := strings.CutPrefix(text, "```json"); found {
		text = after
	} else if after, found := strings.CutPrefix(text, "```"); found {
		text = after
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	var result claudeResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, eris.Wrap(err, "analyze: decode claude reply")
	}
	if result.DataType == "" {
		return nil, eris.New("analyze: claude reply missing data_type")
	}
	if result.SecurityRisk == "" {
		result.SecurityRisk = RiskUnknown
	}
	if result.GeoEstimate == "" {
		result.GeoEstimate = "Unknown"
	}
	return &model.Annotation{
		DataType:        result.DataType,
		Summary:         result.Summary,
		Tags:            result.Tags,
		ExtractedFields: result.ExtractedFields,
		SecurityRisk:    result.SecurityRisk,
		GeoEstimate:     result.GeoEstimate,
	}, nil
}
