package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/storepulse-systems/storepulse/common/database"
	"github.com/storepulse-systems/storepulse/common/envelope"
	"github.com/storepulse-systems/storepulse/common/httputil"
	"github.com/storepulse-systems/storepulse/ingest/internal/auth"
	"github.com/storepulse-systems/storepulse/ingest/internal/metrics"
	"github.com/storepulse-systems/storepulse/ingest/internal/ratelimit"
	"github.com/storepulse-systems/storepulse/ingest/internal/repository"
	"github.com/storepulse-systems/storepulse/ingest/internal/service"
	"github.com/storepulse-systems/storepulse/ingest/internal/tick"
)

// maxEventSize bounds a single POST /events body.
const maxEventSize = 1 << 20

// ingestRequest is the POST /events body: the envelope, with an
// optional top-level receipt_id shortcut that producers may use
// instead of meta.receipt_id.
type ingestRequest struct {
	EventName    string                 `json:"event_name"`
	EventVersion int                    `json:"event_version"`
	TS           time.Time              `json:"ts"`
	Source       string                 `json:"source"`
	LeadID       string                 `json:"lead_id"`
	OrgID        string                 `json:"org_id"`
	Data         map[string]interface{} `json:"data"`
	Meta         map[string]interface{} `json:"meta"`
	ReceiptID    string                 `json:"receipt_id"`
}

type IngestResponse struct {
	OK        bool   `json:"ok"`
	ReceiptID string `json:"receipt_id"`
	Stored    bool   `json:"stored"`
	Deduped   bool   `json:"deduped"`
}

type StorageFailureResponse struct {
	OK     bool   `json:"ok"`
	Stored bool   `json:"stored"`
	Reason string `json:"reason"`
}

// EventsHandler serves the ingestion and liveness read endpoints.
type EventsHandler struct {
	gateway *service.Gateway
	authn   *auth.Authenticator
	limiter ratelimit.RateLimiter
	ticker  *tick.Driver
	repo    repository.Repository
	logger  *slog.Logger
}

// NewEventsHandler wires the HTTP surface.
func NewEventsHandler(
	gateway *service.Gateway,
	authn *auth.Authenticator,
	limiter ratelimit.RateLimiter,
	ticker *tick.Driver,
	repo repository.Repository,
	logger *slog.Logger,
) *EventsHandler {
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		gateway: gateway,
		authn:   authn,
		limiter: limiter,
		ticker:  ticker,
		repo:    repo,
		logger:  logger,
	}
}

// HandleEvent is POST /events.
func (h *EventsHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}
	defer r.Body.Close()
	metrics.EventBytesTotal.Add(float64(len(body)))

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}

	e := h.buildEnvelope(&req)

	key := envelope.DataString(e.Data, "store_id")
	if key == "" {
		key = "unknown"
	}
	allowed, err := h.limiter.Allow(r.Context(), key)
	if err != nil {
		h.logger.Warn("rate limit check failed", slog.String("error", err.Error()))
	} else if !allowed {
		httputil.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many events for this store, slow down")
		return
	}

	result, err := h.gateway.Ingest(r.Context(), principal, e)
	if err != nil {
		h.writeIngestError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Deduped {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, IngestResponse{
		OK:        true,
		ReceiptID: result.ReceiptID,
		Stored:    result.Stored,
		Deduped:   result.Deduped,
	})
}

// HandleStoreLiveness is GET /api/v1/stores/{id}/liveness.
func (h *EventsHandler) HandleStoreLiveness(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	snap, err := h.gateway.StoreSnapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repository.ErrStoreNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "unknown_store", "store is not registered")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "failed to compute liveness")
		return
	}

	if principal.Kind == auth.KindUser && principal.OrgID != snap.OrgID {
		httputil.WriteError(w, http.StatusForbidden, "org_mismatch", "store belongs to another org")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, snap)
}

// HandleLivenessOverview is GET /api/v1/liveness.
func (h *EventsHandler) HandleLivenessOverview(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	snaps, err := h.gateway.AllSnapshots(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "failed to compute liveness")
		return
	}

	if principal.Kind == auth.KindUser {
		filtered := snaps[:0]
		for _, snap := range snaps {
			if snap.OrgID == principal.OrgID {
				filtered = append(filtered, snap)
			}
		}
		snaps = filtered
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"stores": snaps,
		"count":  len(snaps),
	})
}

// HandleTick is POST /internal/tick. An external scheduler calls this
// periodically; ?store= restricts the sweep to one store.
func (h *EventsHandler) HandleTick(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	result, err := h.ticker.Run(r.Context(), r.URL.Query().Get("store"))
	if err != nil {
		if errors.Is(err, repository.ErrStoreNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "unknown_store", "store is not registered")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "tick_failed", err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// Health is /healthz.
func (h *EventsHandler) Health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready is /readyz; it fails when the ledger is unreachable.
func (h *EventsHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := database.QueryContext(r.Context())
	defer cancel()
	if err := h.repo.Ping(ctx); err != nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *EventsHandler) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	principal, err := h.authn.Authenticate(r)
	if err != nil {
		code := "invalid_credentials"
		if errors.Is(err, auth.ErrSecretNotConfigured) {
			code = "edge_token_not_configured"
		} else if errors.Is(err, auth.ErrMissingCredentials) {
			code = "missing_credentials"
		}
		httputil.WriteError(w, http.StatusForbidden, code, err.Error())
		return nil, false
	}
	return principal, true
}

func (h *EventsHandler) buildEnvelope(req *ingestRequest) *envelope.Envelope {
	meta := req.Meta
	if req.ReceiptID != "" {
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta["receipt_id"] = req.ReceiptID
	}

	source := req.Source
	if source == "" {
		source = envelope.SourceEdge
	}

	e := envelope.Build(req.EventName, source, req.Data, meta, req.EventVersion)
	e.LeadID = req.LeadID
	e.OrgID = req.OrgID

	// The wire ts only wins when the payload has no occurrence time of
	// its own; Build already preferred data.occurred_at and data.ts.
	if !req.TS.IsZero() {
		if _, hasOccurred := req.Data["occurred_at"]; !hasOccurred {
			if _, hasTS := req.Data["ts"]; !hasTS {
				e.TS = req.TS
				e.EventID = envelope.DeriveReceiptID(e)
			}
		}
	}

	return e
}

func (h *EventsHandler) writeIngestError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.WriteError(w, http.StatusBadRequest, verr.Code, verr.Detail)
	case errors.Is(err, auth.ErrOrgMismatch):
		httputil.WriteError(w, http.StatusForbidden, "org_mismatch", err.Error())
	case errors.Is(err, service.ErrLedgerUnavailable):
		metrics.EventsTotal.WithLabelValues("", "storage_error").Inc()
		httputil.WriteJSON(w, http.StatusServiceUnavailable, StorageFailureResponse{
			OK:     false,
			Stored: false,
			Reason: "db_write_failed",
		})
	default:
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "event processing failed")
	}
}
