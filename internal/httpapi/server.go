// Package httpapi is the HTTP transport: the agent webhook plus the
// auxiliary endpoints bots and operators poll directly.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mediaverse/hub/internal/faults"
	"github.com/mediaverse/hub/internal/orchestrator"
	"github.com/mediaverse/hub/internal/protocol"
	"github.com/mediaverse/hub/internal/queue"
	"github.com/mediaverse/hub/internal/registry"
	"github.com/mediaverse/hub/internal/store"
)

// Server exposes the hub over HTTP.
type Server struct {
	orch     *orchestrator.Orchestrator
	store    *store.Store
	registry *registry.Registry
	queue    *queue.Queue
	faults   *faults.Orchestrator
	logger   *slog.Logger
	router   chi.Router
}

// New builds the server and mounts all routes.
func New(o *orchestrator.Orchestrator, s *store.Store, r *registry.Registry, q *queue.Queue, f *faults.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		orch:     o,
		store:    s,
		registry: r,
		queue:    q,
		faults:   f,
		logger:   logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/health", srv.handleHealth)
	router.Post("/webhook", srv.handleWebhook)
	router.Route("/api", func(api chi.Router) {
		api.Get("/video/{hash}", srv.handleVideo)
		api.Get("/bot/video/{hash}", srv.handleBotVideo)
		api.Get("/bot/confirm/{jobID}", srv.handleBotConfirm)
		api.Post("/bot/report", srv.handleBotReport)
		api.Post("/bot/heartbeat", srv.handleBotHeartbeat)
		api.Get("/clients", srv.handleClients)
		api.Get("/clients/{code}/history", srv.handleClientHistory)
		api.Get("/stats", srv.handleStats)
	})
	srv.router = router
	return srv
}

// Handler returns the mounted router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleWebhook runs one agent envelope through the orchestrator. The
// response is always the ordered array of per-event envelopes; only a
// body that fails to decode is rejected at this layer.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var env protocol.MessageEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	responses := s.orch.ProcessEnvelope(env)
	writeJSON(w, http.StatusOK, responses)
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.lookupMedia(w, r)
	if !ok {
		return
	}
	if _, err := os.Stat(asset.FilePath); err != nil {
		s.logger.Error("media file missing on disk", "hash", asset.FileHash, "path", asset.FilePath)
		writeError(w, http.StatusNotFound, "media file not available")
		return
	}
	w.Header().Set("Content-Type", asset.MimeType)
	http.ServeFile(w, r, asset.FilePath)
}

// handleBotVideo returns the same content as handleVideo but base64
// wrapped in JSON, for agents whose runtime cannot stream binaries.
func (s *Server) handleBotVideo(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.lookupMedia(w, r)
	if !ok {
		return
	}
	data, err := os.ReadFile(asset.FilePath)
	if err != nil {
		s.logger.Error("media file missing on disk", "hash", asset.FileHash, "path", asset.FilePath)
		writeError(w, http.StatusNotFound, "media file not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"filename":   asset.Filename,
		"mime_type":  asset.MimeType,
		"size_bytes": asset.FileSize,
		"content":    base64.StdEncoding.EncodeToString(data),
	})
}

func (s *Server) lookupMedia(w http.ResponseWriter, r *http.Request) (*store.MediaAsset, bool) {
	hash := chi.URLParam(r, "hash")
	asset, err := s.store.GetMediaByHash(hash)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown media hash")
		return nil, false
	}
	if err != nil {
		s.logger.Error("media lookup failed", "hash", hash, "error", err)
		writeError(w, http.StatusInternalServerError, "media lookup failed")
		return nil, false
	}
	return asset, true
}

func (s *Server) handleBotConfirm(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	res, err := s.store.ConfirmItem(jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	if err != nil {
		s.logger.Error("confirm failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "confirm failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     res.OK,
		"status": res.Status,
		"reason": res.Reason,
	})
}

type reportRequest struct {
	ClientCode  string `json:"client_code"`
	JobID       int64  `json:"job_id"`
	Status      string `json:"status"`
	ExternalID  string `json:"external_id"`
	ExternalURL string `json:"external_url"`
	Log         string `json:"log"`
}

// handleBotReport is the webhook report_job event on a plain endpoint.
// It runs the same orchestrator path so registry counters and bus
// topics stay consistent across both transports.
func (s *Server) handleBotReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ClientCode == "" || req.JobID == 0 {
		writeError(w, http.StatusBadRequest, "client_code and job_id are required")
		return
	}

	responses := s.orch.ProcessEnvelope(protocol.MessageEnvelope{
		ClientCode: req.ClientCode,
		Events: []protocol.Event{{
			Type:       protocol.EventReportJob,
			ReplyToken: protocol.GenerateReplyToken(),
			Timestamp:  time.Now().UnixMilli(),
			Payload: map[string]any{
				"job_id":       req.JobID,
				"status":       req.Status,
				"external_id":  req.ExternalID,
				"external_url": req.ExternalURL,
				"log":          req.Log,
			},
		}},
	})
	writeJSON(w, http.StatusOK, responses[0].Messages)
}

type heartbeatRequest struct {
	ClientCode string `json:"client_code"`
}

func (s *Server) handleBotHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ClientCode == "" {
		writeError(w, http.StatusBadRequest, "client_code is required")
		return
	}

	responses := s.orch.ProcessEnvelope(protocol.MessageEnvelope{
		ClientCode: req.ClientCode,
		Events: []protocol.Event{{
			Type:       protocol.EventHeartbeat,
			ReplyToken: protocol.GenerateReplyToken(),
			Timestamp:  time.Now().UnixMilli(),
		}},
	})
	writeJSON(w, http.StatusOK, responses[0].Messages)
}

// clientView is the JSON shape of one registry entry.
type clientView struct {
	ClientCode    string    `json:"client_code"`
	Platform      string    `json:"platform,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
	IsOnline      bool      `json:"is_online"`
	CurrentJobID  *int64    `json:"current_job_id,omitempty"`
	JobsCompleted int       `json:"jobs_completed"`
	JobsFailed    int       `json:"jobs_failed"`
}

func (s *Server) handleClients(w http.ResponseWriter, _ *http.Request) {
	agents := s.registry.Snapshot()
	views := make([]clientView, 0, len(agents))
	for _, a := range agents {
		views = append(views, clientView{
			ClientCode:    a.ClientCode,
			Platform:      a.Platform,
			LastSeen:      a.LastSeen,
			IsOnline:      a.IsOnline,
			CurrentJobID:  a.CurrentJobID,
			JobsCompleted: a.JobsCompleted,
			JobsFailed:    a.JobsFailed,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// historyView is the JSON shape of one ledger row.
type historyView struct {
	MediaID     int64     `json:"media_id"`
	Platform    string    `json:"platform"`
	ExternalID  string    `json:"external_id,omitempty"`
	ExternalURL string    `json:"external_url,omitempty"`
	PostedAt    time.Time `json:"posted_at"`
}

func (s *Server) handleClientHistory(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	client, err := s.store.GetClientByCode(code)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown client")
		return
	}
	if err != nil {
		s.logger.Error("client lookup failed", "client_code", code, "error", err)
		writeError(w, http.StatusInternalServerError, "client lookup failed")
		return
	}

	history, err := s.store.ListPostingHistory(client.ID)
	if err != nil {
		s.logger.Error("history lookup failed", "client_code", code, "error", err)
		writeError(w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	views := make([]historyView, 0, len(history))
	for _, h := range history {
		views = append(views, historyView{
			MediaID:     h.MediaID,
			Platform:    h.Platform,
			ExternalID:  h.ExternalID,
			ExternalURL: h.ExternalURL,
			PostedAt:    h.PostedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{
		"agents_online": s.registry.OnlineCount(),
		"queue": map[string]any{
			"pending": s.queue.Len(),
			"dead":    len(s.queue.DeadLetter()),
		},
	}

	counts := map[string]func() (int, error){
		"clients":         s.store.CountClients,
		"products":        s.store.CountProducts,
		"media":           s.store.CountMedia,
		"orders":          s.store.CountOrders,
		"posting_history": s.store.CountPostingHistory,
	}
	for name, count := range counts {
		n, err := count()
		if err != nil {
			s.logger.Error("stats count failed", "entity", name, "error", err)
			writeError(w, http.StatusInternalServerError, "stats unavailable")
			return
		}
		stats[name] = n
	}

	byKind := map[string]int{}
	for kind, n := range s.faults.Stats() {
		byKind[string(kind)] = n
	}
	stats["faults"] = byKind

	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
