// Package handler содержит HTTP-обработчики административного API сверки платежей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/payrecon/internal/bank"
	"github.com/mmeshcher/payrecon/internal/middleware"
	"github.com/mmeshcher/payrecon/internal/model"
	"github.com/mmeshcher/payrecon/internal/service"
)

// Service определяет операции оператора, используемые HTTP-обработчиками.
type Service interface {
	ManualVerify(ctx context.Context, req service.ManualVerifyRequest) (*model.Order, error)
	ListAuditLogs(ctx context.Context, limit int, typ model.AuditType) ([]model.AuditEntry, error)
	UpdateSettings(ctx context.Context, upd service.SettingsUpdate) error
}

// Worker определяет управление воркером сверки.
type Worker interface {
	RunCycle(ctx context.Context) service.CycleReport
	Running() bool
	LastCycle() *service.CycleReport
	AutoCheckEnabled(ctx context.Context) (bool, error)
	InspectOrder(ctx context.Context, identifier string) (*service.BankMatch, error)
}

// Handler реализует HTTP-обработчики административного API.
type Handler struct {
	service        Service
	worker         Worker
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, w Worker, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		worker:         w,
		logger:         logger,
		authMiddleware: auth,
	}
}

type verifyRequest struct {
	TransactionID  string           `json:"transactionId"`
	Note           string           `json:"note"`
	ReceivedAmount *decimal.Decimal `json:"receivedAmount"`
}

// VerifyOrder обрабатывает ручное подтверждение заказа оператором.
func (h *Handler) VerifyOrder(w http.ResponseWriter, r *http.Request) {
	operator, ok := middleware.OperatorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req verifyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	order, err := h.service.ManualVerify(r.Context(), service.ManualVerifyRequest{
		Identifier:     chi.URLParam(r, "identifier"),
		Operator:       operator,
		TransactionID:  req.TransactionID,
		Note:           req.Note,
		ReceivedAmount: req.ReceivedAmount,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case errors.Is(err, service.ErrAlreadyCompleted):
			http.Error(w, "order already completed", http.StatusConflict)
		case errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("manual verify error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

// BankMatch возвращает результат нестрогого сопоставления заказа со свежей выпиской.
func (h *Handler) BankMatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.worker.InspectOrder(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case errors.Is(err, service.ErrConfigurationMissing):
			http.Error(w, "bank configuration missing", http.StatusConflict)
		case isBankError(err):
			h.logger.Warn("bank match fetch failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			h.logger.Error("bank match error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// GetLogs возвращает последние записи журнала воркера.
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	typ := model.AuditType(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("type"))))

	entries, err := h.service.ListAuditLogs(r.Context(), limit, typ)
	if err != nil {
		h.logger.Error("list audit logs error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}

	h.writeJSON(w, http.StatusOK, entries)
}

type statusResponse struct {
	Running   bool                 `json:"running"`
	Enabled   bool                 `json:"enabled"`
	LastCycle *service.CycleReport `json:"lastCycle,omitempty"`
}

// GetWorkerStatus возвращает состояние воркера сверки.
func (h *Handler) GetWorkerStatus(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.worker.AutoCheckEnabled(r.Context())
	if err != nil {
		h.logger.Error("get settings error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, statusResponse{
		Running:   h.worker.Running(),
		Enabled:   enabled,
		LastCycle: h.worker.LastCycle(),
	})
}

// RunWorker выполняет один цикл сверки синхронно и возвращает его итог.
func (h *Handler) RunWorker(w http.ResponseWriter, r *http.Request) {
	report := h.worker.RunCycle(r.Context())
	h.writeJSON(w, http.StatusOK, report)
}

type settingsRequest struct {
	AutoCheckEnabled bool              `json:"autoCheckEnabled"`
	BankConfig       *model.BankConfig `json:"bankConfig"`
}

// UpdateSettings сохраняет настройки автоматической проверки.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateSettings(r.Context(), service.SettingsUpdate{
		AutoCheckEnabled: req.AutoCheckEnabled,
		Bank:             req.BankConfig,
	}); err != nil {
		h.logger.Error("update settings error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func isBankError(err error) bool {
	for _, target := range []error{
		bank.ErrAuthentication, bank.ErrRateLimited, bank.ErrTransientServer,
		bank.ErrTimeout, bank.ErrReAuthenticationFailed, bank.ErrUnknown,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
