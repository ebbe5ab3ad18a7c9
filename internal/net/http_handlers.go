package net

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"beat-hard/server/internal/battle"
	"beat-hard/server/internal/combat"
	"beat-hard/server/internal/net/proto"
	"beat-hard/server/internal/net/ws"
	"beat-hard/server/internal/observability"
	"beat-hard/server/internal/telemetry"
	"beat-hard/server/logging"
)

const maxRequestBody = 1 << 20

type HTTPHandlerConfig struct {
	Logger        telemetry.Logger
	Metrics       nethttp.Handler
	WebSocket     nethttp.HandlerFunc
	RouterStats   func() logging.RouterStats
	Observability observability.Config
}

type handler struct {
	battle      *battle.Machine
	hub         *ws.Hub
	logger      telemetry.Logger
	routerStats func() logging.RouterStats
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// NewHTTPHandler builds the control surface: battle operations, sensor
// ingestion, view broadcasts and the display websocket endpoint.
func NewHTTPHandler(machine *battle.Machine, hub *ws.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	h := &handler{battle: machine, hub: hub, logger: logger, routerStats: cfg.RouterStats}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		h.writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ok"})
	})
	router.Get("/diagnostics", h.handleDiagnostics)
	if cfg.Metrics != nil && cfg.Observability.EnableMetrics {
		router.Method(nethttp.MethodGet, "/metrics", cfg.Metrics)
	}
	if cfg.WebSocket != nil {
		router.Get("/ws", cfg.WebSocket)
	}
	if cfg.Observability.EnablePprofTrace {
		router.Mount("/debug", middleware.Profiler())
	}

	router.Route("/battle", func(r chi.Router) {
		r.Get("/", h.handleStatus)
		r.Post("/setup", h.handleSetup)
		r.Post("/start", h.transition(machine.Start))
		r.Post("/pause", h.transition(machine.Pause))
		r.Post("/stop", h.transition(machine.Stop))
		r.Post("/reset-round", h.transition(machine.ResetRound))
		r.Post("/finish", h.transition(machine.Finish))
		r.Post("/advance", h.handleAdvance)
		r.Post("/reset", h.handleReset)
		r.Get("/rounds", h.handleRounds)
		r.Get("/fighters/{fighter}", h.handleFighter)
	})
	router.Post("/hits", h.handleHit)
	router.Post("/views/{viewType}", h.handleView)

	return router
}

func (h *handler) handleDiagnostics(w nethttp.ResponseWriter, r *nethttp.Request) {
	payload := struct {
		Status      string               `json:"status"`
		ServerTime  int64                `json:"serverTime"`
		Subscribers int                  `json:"subscribers"`
		Battle      battle.Status        `json:"battle"`
		Logging     *logging.RouterStats `json:"logging,omitempty"`
	}{
		Status:      "ok",
		ServerTime:  time.Now().UnixMilli(),
		Subscribers: h.hub.SubscriberCount(),
		Battle:      h.battle.State(),
	}
	if h.routerStats != nil {
		stats := h.routerStats()
		payload.Logging = &stats
	}
	h.writeJSON(w, nethttp.StatusOK, payload)
}

func (h *handler) handleStatus(w nethttp.ResponseWriter, r *nethttp.Request) {
	h.writeJSON(w, nethttp.StatusOK, h.battle.State())
}

func (h *handler) handleSetup(w nethttp.ResponseWriter, r *nethttp.Request) {
	var setup battle.Setup
	if err := h.decodeBody(r, &setup); err != nil {
		h.writeError(w, nethttp.StatusBadRequest, "invalid payload")
		return
	}
	status, err := h.battle.Configure(r.Context(), setup)
	if err != nil {
		h.respondBattleError(w, err)
		return
	}
	h.writeJSON(w, nethttp.StatusOK, status)
}

func (h *handler) transition(op func(ctx context.Context) (battle.Status, error)) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		status, err := op(r.Context())
		if err != nil {
			h.respondBattleError(w, err)
			return
		}
		h.writeJSON(w, nethttp.StatusOK, status)
	}
}

func (h *handler) handleAdvance(w nethttp.ResponseWriter, r *nethttp.Request) {
	advance, err := h.battle.AdvanceRound(r.Context())
	if err != nil {
		h.respondBattleError(w, err)
		return
	}
	h.writeJSON(w, nethttp.StatusOK, advance)
}

func (h *handler) handleReset(w nethttp.ResponseWriter, r *nethttp.Request) {
	resetMaxStats := h.battle.ResetMaxStatsOnNewBattle()
	if raw := r.URL.Query().Get("maxStats"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, nethttp.StatusBadRequest, "maxStats must be a boolean")
			return
		}
		resetMaxStats = parsed
	}
	h.writeJSON(w, nethttp.StatusOK, h.battle.Reset(r.Context(), resetMaxStats))
}

func (h *handler) handleRounds(w nethttp.ResponseWriter, r *nethttp.Request) {
	h.writeJSON(w, nethttp.StatusOK, h.battle.Rounds())
}

func (h *handler) handleFighter(w nethttp.ResponseWriter, r *nethttp.Request) {
	fighter, err := combat.ParseFighterID(chi.URLParam(r, "fighter"))
	if err != nil {
		h.writeError(w, nethttp.StatusNotFound, "unknown fighter")
		return
	}
	summary, err := h.battle.Fighter(fighter)
	if err != nil {
		h.respondBattleError(w, err)
		return
	}
	h.writeJSON(w, nethttp.StatusOK, summary)
}

func (h *handler) handleHit(w nethttp.ResponseWriter, r *nethttp.Request) {
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, nethttp.StatusBadRequest, "invalid payload")
		return
	}
	sample, err := proto.DecodeHitInput(body)
	if err != nil {
		if errors.Is(err, combat.ErrUnknownFighter) {
			h.writeError(w, nethttp.StatusBadRequest, "unknown fighter")
			return
		}
		h.writeError(w, nethttp.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.battle.Ingest(r.Context(), sample)
	if err != nil {
		h.respondBattleError(w, err)
		return
	}
	h.writeJSON(w, nethttp.StatusAccepted, result)
}

// handleView broadcasts an operator selected view. Cover and summary views
// with an empty body are filled from the battle state.
func (h *handler) handleView(w nethttp.ResponseWriter, r *nethttp.Request) {
	viewType := proto.ViewType(chi.URLParam(r, "viewType"))
	if !viewType.Valid() || viewType == proto.ViewRoundAdvance {
		h.writeError(w, nethttp.StatusBadRequest, "unknown view type")
		return
	}
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, nethttp.StatusBadRequest, "invalid payload")
		return
	}

	var data any
	if len(body) > 0 {
		if !json.Valid(body) {
			h.writeError(w, nethttp.StatusBadRequest, "invalid payload")
			return
		}
		data = json.RawMessage(body)
	} else {
		data, err = h.defaultViewData(viewType)
		if err != nil {
			h.respondBattleError(w, err)
			return
		}
	}

	h.hub.Send(viewType, data)
	h.writeJSON(w, nethttp.StatusAccepted, map[string]any{"viewType": viewType, "subscribers": h.hub.SubscriberCount()})
}

func (h *handler) defaultViewData(viewType proto.ViewType) (any, error) {
	switch viewType {
	case proto.ViewCover:
		return h.battle.Cover()
	case proto.ViewStatsPartial, proto.ViewSummary:
		return h.battle.Summary()
	default:
		return nil, nil
	}
}

func (h *handler) respondBattleError(w nethttp.ResponseWriter, err error) {
	switch {
	case errors.Is(err, battle.ErrInvalidConfig):
		h.writeError(w, nethttp.StatusBadRequest, err.Error())
	case errors.Is(err, combat.ErrUnknownFighter):
		h.writeError(w, nethttp.StatusNotFound, err.Error())
	case errors.Is(err, battle.ErrCannotAdvance),
		errors.Is(err, battle.ErrBattleFinished),
		errors.Is(err, battle.ErrNotConfigured),
		errors.Is(err, battle.ErrNotTimed),
		errors.Is(err, battle.ErrNotRunning):
		h.writeError(w, nethttp.StatusConflict, err.Error())
	default:
		h.logger.Printf("battle operation failed: %v", err)
		h.writeError(w, nethttp.StatusInternalServerError, "internal server error")
	}
}

func (h *handler) decodeBody(r *nethttp.Request, dest any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return io.EOF
	}
	return json.Unmarshal(body, dest)
}

func readBody(r *nethttp.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil, nil
	}
	return body, nil
}

func (h *handler) writeError(w nethttp.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message, Code: status})
}

func (h *handler) writeJSON(w nethttp.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Printf("failed to encode response: %v", err)
	}
}
