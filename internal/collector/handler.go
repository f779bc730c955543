// Package collector exposes the HTTP capture surface: the ingest endpoint,
// the beacon endpoint and the tracking pixel. Every request terminates here;
// nothing is proxied onward. Captures are handed to the relay through the
// broadcaster and the caller always gets an immediate synthetic response.
package collector

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/internal/relay"
)

var (
	capturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_captures_total",
		Help: "Payloads accepted by the HTTP capture surface.",
	}, []string{"route", "delivery"})
	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_rejections_total",
		Help: "Requests that carried no extractable payload.",
	}, []string{"route"})
)

// Query parameters checked for inline payloads, in priority order.
var payloadParams = []string{"payload", "data", "q", "content"}

// pixelGIF is a 1x1 transparent GIF.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0x21, 0xF9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2C, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3B,
}

// Handler serves the capture endpoints.
type Handler struct {
	broadcaster *relay.Broadcaster
	session     *relay.Session
	maxBytes    int64
}

// New creates a Handler. session may be nil when the viewer endpoints are
// not wanted.
func New(bc *relay.Broadcaster, sess *relay.Session, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	return &Handler{broadcaster: bc, session: sess, maxBytes: maxBytes}
}

// Routes builds the router. CORS is wide open on purpose: the capture
// surface accepts traffic from any origin.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/ingest", h.handleIngest)
	r.Post("/ingest", h.handleIngest)
	r.Get("/ingest-signal", h.handleSignal)
	r.Post("/ingest-signal", h.handleSignal)
	r.Get("/ping.gif", h.handlePixel)
	r.Get("/healthz", h.handleHealth)
	if h.session != nil {
		r.Get("/status", h.handleStatus)
	}
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// handleIngest extracts a payload from the query string first and the body
// second, then answers with a synthetic JSON response. The request never
// reaches any upstream.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.extractPayload(r)
	if !ok {
		rejectionsTotal.WithLabelValues("ingest").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no payload found"})
		return
	}

	label := ""
	if r.URL.Query().Has("headless") {
		label = "Headless: " + r.Method
	}

	delivered, err := h.broadcaster.Offer(r.Context(), model.SourceProxyRelay, payload, label, originFromRequest(r))
	if err != nil {
		zap.L().Error("ingest hand-off", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "capture failed"})
		return
	}
	capturesTotal.WithLabelValues("ingest", deliveryLabel(delivered)).Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ingested"})
}

// handleSignal serves navigator.sendBeacon-style fire-and-forget deliveries
// on any method: an inline payload parameter wins, the POST body is the
// fallback.
func (h *Handler) handleSignal(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.extractPayload(r)
	if !ok {
		rejectionsTotal.WithLabelValues("signal").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no payload found"})
		return
	}

	delivered, err := h.broadcaster.Offer(r.Context(), model.SourceStealthBeacon, payload, "", originFromRequest(r))
	if err != nil {
		zap.L().Error("signal hand-off", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "capture failed"})
		return
	}
	capturesTotal.WithLabelValues("signal", deliveryLabel(delivered)).Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ingested"})
}

// handlePixel always serves the tracking pixel, capturing any payload
// parameter on the side. Errors are swallowed so the image never breaks.
func (h *Handler) handlePixel(w http.ResponseWriter, r *http.Request) {
	if text := firstParam(r); text != "" {
		delivered, err := h.broadcaster.Offer(r.Context(), model.SourceStealthBeacon, model.TextPayload(text), "Pixel", originFromRequest(r))
		if err != nil {
			zap.L().Warn("pixel hand-off", zap.Error(err))
		} else {
			capturesTotal.WithLabelValues("pixel", deliveryLabel(delivered)).Inc()
		}
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelGIF) //nolint:errcheck
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.session.Status(r.Context())
	if err != nil {
		zap.L().Error("status", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "status unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) extractPayload(r *http.Request) (model.Payload, bool) {
	if text := firstParam(r); text != "" {
		return model.TextPayload(text), true
	}
	if r.Method != http.MethodPost {
		return model.Payload{}, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, h.maxBytes))
	if err != nil || len(body) == 0 {
		return model.Payload{}, false
	}
	return model.PayloadFromBytes(body), true
}

// originFromRequest captures what the request itself discloses about the
// sender. Platform stays empty; a server cannot honestly report it.
func originFromRequest(r *http.Request) *model.OriginMeta {
	return &model.OriginMeta{
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Referrer:   r.Referer(),
	}
}

func firstParam(r *http.Request) string {
	q := r.URL.Query()
	for _, key := range payloadParams {
		if v := q.Get(key); v != "" {
			return v
		}
	}
	return ""
}

func deliveryLabel(delivered bool) string {
	if delivered {
		return "live"
	}
	return "staged"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
