package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-sink/internal/bus"
	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/internal/relay"
	"github.com/sells-group/signal-sink/internal/store"
)

// newTestHandler wires a handler to a real store with no live session, so
// every capture lands in the staging queue where tests can inspect it.
func newTestHandler(t *testing.T) (*Handler, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(t.TempDir() + "/collector.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	bc := relay.NewBroadcaster(bus.New(4), st)
	return New(bc, nil, 1<<20), st
}

func stagedPayloads(t *testing.T, st store.Store) []model.StagingEntry {
	t.Helper()
	entries, err := st.ListStaging(context.Background())
	require.NoError(t, err)
	return entries
}

func TestIngest_QueryParam(t *testing.T) {
	h, st := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ingest?payload=hello+world")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ingested", body["status"])

	entries := stagedPayloads(t, st)
	require.Len(t, entries, 1)
	assert.Equal(t, model.SourceProxyRelay, entries[0].Source)
	text, ok := entries[0].Payload.Text()
	require.True(t, ok)
	assert.Equal(t, "hello world", text)

	// The capture remembers what the request disclosed about its sender.
	require.NotNil(t, entries[0].Origin)
	assert.NotEmpty(t, entries[0].Origin.Host)
	assert.NotEmpty(t, entries[0].Origin.RemoteAddr)
	assert.Contains(t, entries[0].Origin.UserAgent, "Go-http-client")
}

func TestIngest_ParamPrecedenceOverBody(t *testing.T) {
	h, st := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/ingest?data=from-param", "text/plain",
		strings.NewReader("from-body"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries := stagedPayloads(t, st)
	require.Len(t, entries, 1)
	text, _ := entries[0].Payload.Text()
	assert.Equal(t, "from-param", text)
}

func TestIngest_PostBody(t *testing.T) {
	h, st := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/ingest", "application/json",
		strings.NewReader(`{"captured":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries := stagedPayloads(t, st)
	require.Len(t, entries, 1)
	text, _ := entries[0].Payload.Text()
	assert.Equal(t, `{"captured":true}`, text)
}

func TestIngest_NoPayload(t *testing.T) {
	h, st := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ingest")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "no payload found", body["error"])
	assert.Empty(t, stagedPayloads(t, st))
}

func TestIngest_HeadlessLabel(t *testing.T) {
	h, st := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ingest?headless=1&payload=quiet")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries := stagedPayloads(t, st)
	require.Len(t, entries, 1)
	assert.Equal(t, "Headless: GET", entries[0].Label)
}

func TestIngest_CORSWideOpen(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/ingest", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://anywhere.example")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSignal_BodyCapture(t *testing.T) {
	h, st := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/ingest-signal", "text/plain",
		strings.NewReader("beacon payload"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries := stagedPayloads(t, st)
	require.Len(t, entries, 1)
	assert.Equal(t, model.SourceStealthBeacon, entries[0].Source)
}

func TestSignal_QueryParamOnGet(t *testing.T) {
	h, st := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ingest-signal?payload=image-beacon")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries := stagedPayloads(t, st)
	require.Len(t, entries, 1)
	assert.Equal(t, model.SourceStealthBeacon, entries[0].Source)
	text, _ := entries[0].Payload.Text()
	assert.Equal(t, "image-beacon", text)
}

func TestSignal_ParamPrecedenceOverBody(t *testing.T) {
	h, st := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/ingest-signal?data=inline", "text/plain",
		strings.NewReader("body fallback"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries := stagedPayloads(t, st)
	require.Len(t, entries, 1)
	text, _ := entries[0].Payload.Text()
	assert.Equal(t, "inline", text)
}

func TestSignal_GetWithoutParam(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ingest-signal")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignal_EmptyBody(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/ingest-signal", "text/plain", bytes.NewReader(nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPixel_ServesGIFAndCaptures(t *testing.T) {
	h, st := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ping.gif?payload=tracked")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pixelGIF, buf.Bytes())

	entries := stagedPayloads(t, st)
	require.Len(t, entries, 1)
	assert.Equal(t, "Pixel", entries[0].Label)
}

func TestPixel_NoParamStillServesGIF(t *testing.T) {
	h, st := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ping.gif")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, stagedPayloads(t, st))
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
