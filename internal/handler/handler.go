// Package handler содержит HTTP-обработчики API сервиса голосования.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mkornev/votebox-system/internal/middleware"
	"github.com/mkornev/votebox-system/internal/model"
	"github.com/mkornev/votebox-system/internal/paystack"
	"github.com/mkornev/votebox-system/internal/repository"
	"github.com/mkornev/votebox-system/internal/service"
	"github.com/mkornev/votebox-system/internal/session"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	InitiatePayment(ctx context.Context, amount int64, phone string) (*service.PaymentIntent, error)
	OpenSession(ctx context.Context, reference, phone string) (*session.Session, error)
	CurrentSession(ctx context.Context, reference string) (*session.Session, error)
	Allocate(ctx context.Context, reference, categoryID, nomineeID, action string) (*session.Session, error)
	Submit(ctx context.Context, reference string) (int64, error)
	Reset(ctx context.Context, reference string) error
	Categories(ctx context.Context) ([]model.Category, error)
	Results(ctx context.Context) ([]model.Category, error)
}

// Handler реализует HTTP-обработчики API сервиса голосования.
type Handler struct {
	service     Service
	logger      *zap.Logger
	sessionAuth *middleware.SessionAuth
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.SessionAuth) *Handler {
	return &Handler{
		service:     s,
		logger:      logger,
		sessionAuth: auth,
	}
}

type initiatePaymentRequest struct {
	Amount int64  `json:"amount"`
	Phone  string `json:"phone"`
}

type initiatePaymentResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
}

// InitiatePayment создаёт платёж в шлюзе на выбранную сумму и возвращает
// референс с адресом страницы подтверждения.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	intent, err := h.service.InitiatePayment(r.Context(), req.Amount, req.Phone)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, paystack.ErrGatewayUnavailable):
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		default:
			h.logger.Error("initiate payment error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, h.logger, initiatePaymentResponse{
		Reference:        intent.Reference,
		AuthorizationURL: intent.AuthorizationURL,
	})
}

type openSessionRequest struct {
	Reference string `json:"reference"`
	Phone     string `json:"phone"`
}

// OpenSession открывает сессию голосования по подтверждённому платежу и
// устанавливает подписанный cookie с референсом.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Reference == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.service.OpenSession(r.Context(), req.Reference, req.Phone)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrPaymentNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrPhoneMismatch):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		case errors.Is(err, repository.ErrReferenceConsumed):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, paystack.ErrPaymentCancelled),
			errors.Is(err, repository.ErrPaymentNotSettled),
			errors.Is(err, service.ErrAmountMismatch):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, paystack.ErrGatewayUnavailable):
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		default:
			h.logger.Error("open session error", zap.Error(err), zap.String("reference", req.Reference))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.sessionAuth.SetSessionCookie(w, req.Reference)
	writeJSON(w, h.logger, sess)
}

// GetSession возвращает текущую сессию голосования.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	reference, ok := middleware.GetReferenceFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	sess, err := h.service.CurrentSession(r.Context(), reference)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSessionNotFound):
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, service.ErrCorruptedSession):
			// Повреждённая сессия уже удалена, для клиента это «сессии нет».
			h.logger.Warn("corrupted session discarded", zap.String("reference", reference))
			w.WriteHeader(http.StatusNoContent)
		default:
			h.logger.Error("get session error", zap.Error(err), zap.String("reference", reference))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, h.logger, sess)
}

type allocateRequest struct {
	Category string `json:"category"`
	Nominee  string `json:"nominee"`
	Action   string `json:"action"`
}

// Allocate добавляет или снимает единицу голоса в текущей сессии.
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	reference, ok := middleware.GetReferenceFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Category == "" || req.Nominee == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.service.Allocate(r.Context(), reference, req.Category, req.Nominee, req.Action)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, session.ErrNoVotesRemaining),
			errors.Is(err, session.ErrNoAllocation),
			errors.Is(err, session.ErrNotVoting):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, repository.ErrSessionNotFound), errors.Is(err, service.ErrCorruptedSession):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("allocate error", zap.Error(err), zap.String("reference", reference))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, h.logger, sess)
}

type submitResponse struct {
	Count int64        `json:"count"`
	Step  session.Step `json:"step"`
}

// Submit записывает все распределённые голоса сессии в журнал.
// При ошибке сессия сохраняется, и отправку можно повторить.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	reference, ok := middleware.GetReferenceFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	count, err := h.service.Submit(r.Context(), reference)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrSessionNotFound), errors.Is(err, service.ErrCorruptedSession):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrReferenceConsumed),
			errors.Is(err, repository.ErrBudgetExceeded),
			errors.Is(err, session.ErrNotVoting):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, repository.ErrPaymentNotSettled):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		default:
			h.logger.Error("submit votes error", zap.Error(err), zap.String("reference", reference))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, h.logger, submitResponse{Count: count, Step: session.StepSuccess})
}

// Reset удаляет текущую сессию и cookie по явному запросу пользователя.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	reference, ok := middleware.GetReferenceFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.Reset(r.Context(), reference); err != nil {
		h.logger.Error("reset session error", zap.Error(err), zap.String("reference", reference))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.sessionAuth.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// GetCategories возвращает справочник категорий с номинантами.
func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.Categories(r.Context())
	if err != nil {
		h.logger.Error("get categories error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(categories) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, h.logger, categories)
}

// GetResults возвращает результаты голосования по категориям.
func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.Results(r.Context())
	if err != nil {
		h.logger.Error("get results error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(results) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, h.logger, results)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}
