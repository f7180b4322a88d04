// Package server は手動ポーリング・再送・履歴参照のHTTPエンドポイントです
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/dispatch"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/repository"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/service/batch"
)

// Poller は1サイクル分のポーリングを実行します
type Poller interface {
	Poll(ctx context.Context) (batch.PollResult, error)
}

// Dispatcher は送信履歴の参照と再送を行います
type Dispatcher interface {
	Resend(ctx context.Context, id int64) (*model.DispatchRecord, error)
	List(ctx context.Context, filter repository.DispatchFilter) ([]model.DispatchRecord, error)
}

// LedgerReader は資産ごとの処理済みマーカーを参照します
type LedgerReader interface {
	ListByAsset(ctx context.Context, assetID string) ([]model.AssetMark, error)
}

// Handler はHTTPリクエストを各サービスに振り分けます
type Handler struct {
	poller     Poller
	dispatcher Dispatcher
	ledger     LedgerReader
	logger     *zap.Logger
}

// NewHandler は新しいHandlerを作成します
func NewHandler(poller Poller, dispatcher Dispatcher, ledger LedgerReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		poller:     poller,
		dispatcher: dispatcher,
		ledger:     ledger,
		logger:     logger.Named("http"),
	}
}

// NewRouter はルーティングを組み立てます
// gathererがnilの場合は/metricsを公開しません
func NewRouter(h *Handler, gatherer prometheus.Gatherer, tracing bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Get("/healthz", h.HandleHealth)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/poll", h.HandlePoll)
		r.Post("/resend", h.HandleResend)
		r.Get("/emails", h.HandleListEmails)
		r.Get("/assets/{assetID}/ledger", h.HandleAssetLedger)
	})

	if tracing {
		return xray.Handler(xray.NewFixedSegmentNamer("asset-notifier"), r)
	}
	return r
}

// HandleHealth は死活監視用です
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandlePoll はポーリングを1回実行して集計を返します
// 既に実行中の場合は409を返します
func (h *Handler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	result, err := h.poller.Poll(r.Context())
	if err != nil {
		h.logger.Error("manual poll failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if result.Skipped {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleResend は送信履歴のIDを指定してメールを再送します
func (h *Handler) HandleResend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("id is required"))
		return
	}

	record, err := h.dispatcher.Resend(r.Context(), req.ID)
	switch {
	case errors.Is(err, dispatch.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, dispatch.ErrUnknownEventType):
		writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil && record != nil:
		// 送信に失敗した履歴も返す
		writeJSON(w, http.StatusBadGateway, record)
	case err != nil:
		h.logger.Error("resend failed", zap.Int64("record_id", req.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, record)
	}
}

// HandleListEmails は送信履歴を新しい順に返します
func (h *Handler) HandleListEmails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.DispatchFilter{
		EventType: model.EventType(q.Get("eventType")),
		EventID:   q.Get("eventId"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}

	records, err := h.dispatcher.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list dispatch records", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []model.DispatchRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleAssetLedger は資産に対して処理済みのイベントを返します
func (h *Handler) HandleAssetLedger(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	marks, err := h.ledger.ListByAsset(r.Context(), assetID)
	if err != nil {
		h.logger.Error("failed to list ledger marks", zap.String("asset_id", assetID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if marks == nil {
		marks = []model.AssetMark{}
	}
	writeJSON(w, http.StatusOK, marks)
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		h.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
