// Package service реализует бизнес-логику сервиса платного голосования.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mkornev/votebox-system/internal/identity"
	"github.com/mkornev/votebox-system/internal/model"
	"github.com/mkornev/votebox-system/internal/paystack"
	"github.com/mkornev/votebox-system/internal/repository"
	"github.com/mkornev/votebox-system/internal/session"
	"github.com/mkornev/votebox-system/internal/validation"
)

// ErrValidation возвращается при некорректных входных данных до любого сетевого вызова.
var (
	ErrValidation = errors.New("validation error")
	// ErrCorruptedSession возвращается, если сохранённая сессия не читается.
	// Повреждённая запись при этом удаляется, восстановление — начать заново.
	ErrCorruptedSession = errors.New("corrupted session state")
	// ErrPhoneMismatch возвращается, если номер телефона не совпадает с тем, с которого платили.
	ErrPhoneMismatch = errors.New("phone does not match payment")
	// ErrAmountMismatch возвращается, если подтверждённая шлюзом сумма не совпадает
	// с заявленной: платёж на другую сумму не даёт права на весь бюджет голосов.
	ErrAmountMismatch = errors.New("settled amount does not match payment")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreatePayment(ctx context.Context, reference, phoneHash string, amount int64) error
	GetPayment(ctx context.Context, reference string) (*model.Payment, error)
	UpdatePaymentStatus(ctx context.Context, reference string, status model.PaymentStatus) error
	GetPaymentsForVerification(ctx context.Context, limit int) ([]repository.PaymentForVerification, error)
	SaveSessionState(ctx context.Context, reference string, state []byte) error
	GetSessionState(ctx context.Context, reference string) ([]byte, error)
	DeleteSession(ctx context.Context, reference string) error
	ListCategories(ctx context.Context) ([]model.Category, error)
	ListResults(ctx context.Context) ([]model.Category, error)
	SubmitVotes(ctx context.Context, reference, phoneHash string, units []model.VoteUnit) (int64, error)
}

// Gateway описывает контракт платёжного шлюза, используемый сервисом.
type Gateway interface {
	Initialize(ctx context.Context, reference string, amount int64, phone string) (*paystack.InitializedTransaction, error)
	Verify(ctx context.Context, reference string) (*paystack.TransactionStatus, int, time.Duration, error)
}

// Service содержит бизнес-логику сервиса платного голосования.
type Service struct {
	repo         Repository
	gateway      Gateway
	filesBaseURL string
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом платёжного шлюза.
func NewService(repo Repository, gateway Gateway, filesBaseURL string) *Service {
	return &Service{
		repo:         repo,
		gateway:      gateway,
		filesBaseURL: filesBaseURL,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// PaymentIntent описывает инициированный платёж, который плательщику осталось подтвердить.
type PaymentIntent struct {
	Reference        string
	AuthorizationURL string
}

// InitiatePayment проверяет сумму и номер телефона, создаёт транзакцию в шлюзе
// и сохраняет платёж в статусе PENDING. Один голос стоит одну единицу валюты.
func (s *Service) InitiatePayment(ctx context.Context, amount int64, phone string) (*PaymentIntent, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !validation.IsValidPhone(phone) {
		return nil, fmt.Errorf("%w: malformed phone number", ErrValidation)
	}

	reference := uuid.NewString()

	tr, err := s.gateway.Initialize(ctx, reference, amount, phone)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreatePayment(ctx, tr.Reference, identity.Hash(phone), amount); err != nil {
		return nil, err
	}

	return &PaymentIntent{
		Reference:        tr.Reference,
		AuthorizationURL: tr.AuthorizationURL,
	}, nil
}

// OpenSession открывает сессию голосования по оплаченному референсу. Платёж
// проверяется в шлюзе, если ещё не подтверждён; номер телефона должен совпадать
// с тем, с которого платили. Если сессия уже существует, возвращается она —
// оплаченная сессия переживает перезагрузку страницы.
func (s *Service) OpenSession(ctx context.Context, reference, phone string) (*session.Session, error) {
	if !validation.IsValidPhone(phone) {
		return nil, fmt.Errorf("%w: malformed phone number", ErrValidation)
	}

	payment, err := s.repo.GetPayment(ctx, reference)
	if err != nil {
		return nil, err
	}

	if payment.PhoneHash != identity.Hash(phone) {
		return nil, ErrPhoneMismatch
	}
	if payment.ConsumedAt != nil {
		return nil, repository.ErrReferenceConsumed
	}

	if payment.Status != model.PaymentStatusSettled {
		if err := s.settlePayment(ctx, reference, payment.Amount); err != nil {
			return nil, err
		}
	}

	if existing, err := s.loadSession(ctx, reference); err == nil {
		return existing, nil
	} else if !errors.Is(err, repository.ErrSessionNotFound) && !errors.Is(err, ErrCorruptedSession) {
		return nil, err
	}

	sess := session.New(reference, phone, payment.Amount)
	if err := s.saveSession(ctx, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

func (s *Service) settlePayment(ctx context.Context, reference string, amount int64) error {
	status, code, _, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return err
	}
	if code != http.StatusOK || status == nil {
		return repository.ErrPaymentNotSettled
	}

	if status.Cancelled() {
		_ = s.repo.UpdatePaymentStatus(ctx, reference, model.PaymentStatusFailed)
		return paystack.ErrPaymentCancelled
	}
	if !status.Settled() {
		return repository.ErrPaymentNotSettled
	}
	if status.AmountSubunits != amount*100 {
		_ = s.repo.UpdatePaymentStatus(ctx, reference, model.PaymentStatusFailed)
		return ErrAmountMismatch
	}

	return s.repo.UpdatePaymentStatus(ctx, reference, model.PaymentStatusSettled)
}

// CurrentSession возвращает сохранённую сессию по референсу платежа.
func (s *Service) CurrentSession(ctx context.Context, reference string) (*session.Session, error) {
	return s.loadSession(ctx, reference)
}

// Allocate добавляет или снимает одну единицу голоса в сессии и сохраняет её состояние.
func (s *Service) Allocate(ctx context.Context, reference, categoryID, nomineeID, action string) (*session.Session, error) {
	sess, err := s.loadSession(ctx, reference)
	if err != nil {
		return nil, err
	}

	switch action {
	case "add":
		err = sess.Add(categoryID, nomineeID)
	case "remove":
		err = sess.Remove(categoryID, nomineeID)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}
	if err != nil {
		return nil, err
	}

	if err := s.saveSession(ctx, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

// Submit записывает все распределённые единицы голосов в журнал. Отправка
// идемпотентна по референсу платежа: при повторе уже записанные единицы
// пропускаются. При ошибке сессия сохраняется для повторной попытки,
// при успехе транзакция сама удаляет её.
func (s *Service) Submit(ctx context.Context, reference string) (int64, error) {
	sess, err := s.loadSession(ctx, reference)
	if err != nil {
		return 0, err
	}

	if sess.Step != session.StepVoting {
		return 0, session.ErrNotVoting
	}

	units := sess.Flatten()
	if len(units) == 0 {
		return 0, fmt.Errorf("%w: no votes allocated", ErrValidation)
	}

	count, err := s.repo.SubmitVotes(ctx, reference, identity.Hash(sess.Phone), units)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Reset удаляет сессию по явному запросу пользователя и возвращает его к шагу оплаты.
func (s *Service) Reset(ctx context.Context, reference string) error {
	return s.repo.DeleteSession(ctx, reference)
}

func (s *Service) loadSession(ctx context.Context, reference string) (*session.Session, error) {
	state, err := s.repo.GetSessionState(ctx, reference)
	if err != nil {
		return nil, err
	}

	sess, err := session.Unmarshal(state)
	if err != nil {
		// Повреждённую запись не чиним, а удаляем: приложение всегда может
		// начать заново.
		_ = s.repo.DeleteSession(ctx, reference)
		return nil, fmt.Errorf("%w: %v", ErrCorruptedSession, err)
	}

	return sess, nil
}

func (s *Service) saveSession(ctx context.Context, sess *session.Session) error {
	state, err := sess.Marshal()
	if err != nil {
		return err
	}
	return s.repo.SaveSessionState(ctx, sess.PaymentRef, state)
}

// Categories возвращает категории с номинантами для экрана голосования.
func (s *Service) Categories(ctx context.Context) ([]model.Category, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}

	for i := range categories {
		for j := range categories[i].Nominees {
			n := &categories[i].Nominees[j]
			n.PhotoURL = FileURL(s.filesBaseURL, "vote_noms", n.ID, n.Photo)
		}
	}

	return categories, nil
}

// Results возвращает категории с номинантами по убыванию счётчика голосов,
// с долей каждого номинанта в процентах от суммы голосов категории.
func (s *Service) Results(ctx context.Context) ([]model.Category, error) {
	categories, err := s.repo.ListResults(ctx)
	if err != nil {
		return nil, err
	}

	for i := range categories {
		var total int64
		for _, n := range categories[i].Nominees {
			total += n.Tally
		}
		for j := range categories[i].Nominees {
			n := &categories[i].Nominees[j]
			n.PhotoURL = FileURL(s.filesBaseURL, "vote_noms", n.ID, n.Photo)
			n.Percentage = percentage(n.Tally, total)
		}
	}

	return categories, nil
}

// percentage возвращает долю в процентах, округлённую до одного знака.
// При нулевой сумме по категории доля равна нулю.
func percentage(tally, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(tally)/float64(total)*1000) / 10
}

// FileURL строит детерминированный URL файла по коллекции, записи и имени файла.
// Если какой-либо из компонентов отсутствует, возвращается пустая строка.
func FileURL(baseURL, collection, record, filename string) string {
	if baseURL == "" || collection == "" || record == "" || filename == "" {
		return ""
	}
	return fmt.Sprintf("%s/api/files/%s/%s/%s", baseURL, collection, record, filename)
}

// StartPaymentUpdates запускает фоновый процесс подтверждения платежей в шлюзе.
func (s *Service) StartPaymentUpdates(ctx context.Context) {
	if s.gateway == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processPaymentBatch(ctx)
			}
		}
	}()
}

func (s *Service) processPaymentBatch(ctx context.Context) {
	payments, err := s.repo.GetPaymentsForVerification(ctx, 100)
	if err != nil {
		return
	}

	for _, payment := range payments {
		status, statusCode, retryAfter, err := s.gateway.Verify(ctx, payment.Reference)
		if err != nil {
			continue
		}

		if statusCode == http.StatusTooManyRequests {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if statusCode != http.StatusOK || status == nil {
			continue
		}

		switch {
		case status.Settled() && status.AmountSubunits == payment.Amount*100:
			_ = s.repo.UpdatePaymentStatus(ctx, payment.Reference, model.PaymentStatusSettled)
		case status.Settled(), status.Cancelled(), status.Status == "failed":
			_ = s.repo.UpdatePaymentStatus(ctx, payment.Reference, model.PaymentStatusFailed)
		}
	}
}
