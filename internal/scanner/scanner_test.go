package scanner

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-sink/internal/bus"
	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/internal/relay"
	"github.com/sells-group/signal-sink/internal/store"
)

func newTestScanner(t *testing.T, settings *model.Settings) (*Scanner, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(t.TempDir() + "/scanner.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	if settings == nil {
		settings = model.DefaultSettings()
	}
	bc := relay.NewBroadcaster(bus.New(4), st)
	return New(bc, func() model.Settings { return *settings }), st
}

func staged(t *testing.T, st store.Store) []model.StagingEntry {
	t.Helper()
	entries, err := st.ListStaging(context.Background())
	require.NoError(t, err)
	return entries
}

func TestScanURL_CapturesParams(t *testing.T) {
	sc, st := newTestScanner(t, nil)

	n, err := sc.ScanURL(context.Background(), "https://example.com/page?user=alice&session=xyz")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries := staged(t, st)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, model.SourceURLParam, e.Source)
	}
}

func TestScanQuery_ReservedKeysSkipped(t *testing.T) {
	sc, st := newTestScanner(t, nil)

	values := url.Values{
		"redirect": {"https://elsewhere"},
		"cb":       {"123456"},
		"user":     {"bob"},
	}
	n, err := sc.ScanQuery(context.Background(), values)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries := staged(t, st)
	require.Len(t, entries, 1)
	text, _ := entries[0].Payload.Text()
	assert.Equal(t, "bob", text)
}

func TestScanQuery_PayloadParamTakesBeaconPath(t *testing.T) {
	sc, st := newTestScanner(t, nil)

	values := url.Values{"payload": {"inline secret"}}
	n, err := sc.ScanQuery(context.Background(), values)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries := staged(t, st)
	require.Len(t, entries, 1)
	assert.Equal(t, model.SourceStealthBeacon, entries[0].Source)
}

func TestScanQuery_DenyWins(t *testing.T) {
	settings := model.DefaultSettings()
	settings.FiltersEnabled = true
	settings.AllowedKeys = []string{"token", "user"}
	settings.DeniedKeys = []string{"token"}
	sc, st := newTestScanner(t, settings)

	values := url.Values{
		"token": {"should-not-pass"},
		"user":  {"carol"},
		"other": {"not in allow list"},
	}
	n, err := sc.ScanQuery(context.Background(), values)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries := staged(t, st)
	require.Len(t, entries, 1)
	text, _ := entries[0].Payload.Text()
	assert.Equal(t, "carol", text)
}

func TestScanQuery_AliasLabels(t *testing.T) {
	settings := model.DefaultSettings()
	settings.ParameterAliases = map[string]string{"uid": "User ID"}
	sc, st := newTestScanner(t, settings)

	_, err := sc.ScanQuery(context.Background(), url.Values{"uid": {"42"}})
	require.NoError(t, err)

	entries := staged(t, st)
	require.Len(t, entries, 1)
	assert.Equal(t, "User ID (uid)", entries[0].Label)
}

func TestScanQuery_StealthLabels(t *testing.T) {
	sc, st := newTestScanner(t, nil)

	values := url.Values{
		"headless": {"1"},
		"track":    {"abc"},
	}
	_, err := sc.ScanQuery(context.Background(), values)
	require.NoError(t, err)

	entries := staged(t, st)
	require.Len(t, entries, 1)
	assert.Equal(t, "Stealth (track)", entries[0].Label)
}

func TestScanQuery_EachPairCapturedOnce(t *testing.T) {
	sc, st := newTestScanner(t, nil)
	ctx := context.Background()

	values := url.Values{"user": {"dave"}}
	n, err := sc.ScanQuery(ctx, values)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Same pair again: nothing new.
	n, err = sc.ScanQuery(ctx, values)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Same key, new value: captured.
	n, err = sc.ScanQuery(ctx, url.Values{"user": {"erin"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Len(t, staged(t, st), 2)

	// Reset re-admits everything.
	sc.Reset()
	n, err = sc.ScanQuery(ctx, values)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPollOnce_ReusesConnections(t *testing.T) {
	sc, st := newTestScanner(t, nil)

	var mu sync.Mutex
	var peers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		peers = append(peers, r.RemoteAddr)
		mu.Unlock()
		w.Write(bytes.Repeat([]byte("x"), 32<<10)) //nolint:errcheck
	}))
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, sc.pollOnce(ctx, srv.URL+"/watched?user=frank"))
	require.NoError(t, sc.pollOnce(ctx, srv.URL+"/watched?user=frank"))

	// Draining the body lets sequential polls share one connection.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, peers, 2)
	assert.Equal(t, peers[0], peers[1])

	// The parameter was still captured, once.
	assert.Len(t, staged(t, st), 1)
}

func TestScanQuery_EmptyValuesIgnored(t *testing.T) {
	sc, st := newTestScanner(t, nil)

	n, err := sc.ScanQuery(context.Background(), url.Values{"user": {""}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, staged(t, st))
}
