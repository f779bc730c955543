// Package scanner lifts data out of URL query strings. Parameters pass
// through the allow/deny filter, get labelled through the alias table and
// are handed to the relay; each key=value pair is captured at most once per
// scanner lifetime.
package scanner

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/internal/relay"
)

// Reserved keys drive ingestion mechanics and are never captured as plain
// parameters. payload and data route to the beacon path instead.
var reservedKeys = map[string]struct{}{
	"headless": {},
	"payload":  {},
	"data":     {},
	"redirect": {},
	"cb":       {},
}

// SettingsFunc supplies the live filter and alias configuration.
type SettingsFunc func() model.Settings

// Scanner extracts parameter payloads from URLs.
type Scanner struct {
	broadcaster *relay.Broadcaster
	settings    SettingsFunc
	client      *http.Client

	mu        sync.Mutex
	processed map[string]struct{}
}

// New creates a Scanner.
func New(bc *relay.Broadcaster, settings SettingsFunc) *Scanner {
	return &Scanner{
		broadcaster: bc,
		settings:    settings,
		client:      &http.Client{Timeout: 10 * time.Second},
		processed:   make(map[string]struct{}),
	}
}

// ScanURL parses rawURL and scans its query string.
func (s *Scanner) ScanURL(ctx context.Context, rawURL string) (int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, eris.Wrapf(err, "scanner: parse url %q", rawURL)
	}
	return s.ScanQuery(ctx, u.Query())
}

// ScanQuery captures every eligible parameter in values and reports how
// many were handed off. A headless marker switches labels to stealth form;
// inline payload/data parameters take the beacon path.
func (s *Scanner) ScanQuery(ctx context.Context, values url.Values) (int, error) {
	settings := s.settings()
	stealth := values.Has("headless")

	captured := 0
	for _, key := range []string{"payload", "data"} {
		for _, value := range values[key] {
			if value == "" || !s.markProcessed(key, value) {
				continue
			}
			if _, err := s.broadcaster.Offer(ctx, model.SourceStealthBeacon, model.TextPayload(value), "", nil); err != nil {
				return captured, err
			}
			captured++
		}
	}

	for key, vals := range values {
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		if !settings.KeyAllowed(key) {
			zap.L().Debug("parameter filtered", zap.String("key", key))
			continue
		}
		label := settings.DisplayLabel(key)
		if stealth {
			label = "Stealth (" + label + ")"
		}
		for _, value := range vals {
			if value == "" || !s.markProcessed(key, value) {
				continue
			}
			if _, err := s.broadcaster.Offer(ctx, model.SourceURLParam, model.TextPayload(value), label, nil); err != nil {
				return captured, err
			}
			captured++
		}
	}
	return captured, nil
}

// Run polls watchURL until ctx is cancelled, scanning the query string of
// the final URL after redirects. Scanning pauses while auto-scan is off.
func (s *Scanner) Run(ctx context.Context, watchURL string, every time.Duration) error {
	if every <= 0 {
		every = 500 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.settings().AutoScanParams {
				continue
			}
			if err := s.pollOnce(ctx, watchURL); err != nil {
				zap.L().Warn("scan poll", zap.String("url", watchURL), zap.Error(err))
			}
		}
	}
}

func (s *Scanner) pollOnce(ctx context.Context, watchURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, watchURL, nil)
	if err != nil {
		return eris.Wrap(err, "scanner: build poll request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "scanner: poll")
	}
	// Drain before closing so the connection goes back to the pool.
	defer func() {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()              //nolint:errcheck
	}()

	// Redirect chains often carry the interesting parameters on the final
	// hop.
	final := resp.Request.URL
	if _, err := s.ScanQuery(ctx, final.Query()); err != nil {
		return err
	}
	return nil
}

// Reset clears the processed set so previously seen parameters can be
// captured again.
func (s *Scanner) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = make(map[string]struct{})
}

// markProcessed records key=value and reports true if it was new.
func (s *Scanner) markProcessed(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	mark := key + "=" + value
	if _, seen := s.processed[mark]; seen {
		return false
	}
	s.processed[mark] = struct{}{}
	return true
}
