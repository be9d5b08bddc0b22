// Package session реализует состояние оплаченной сессии голосования:
// бюджет голосов, распределение по номинантам и переходы между шагами.
// Все операции чистые и выполняются в памяти; запись голосов в журнал
// происходит только при отправке.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mkornev/votebox-system/internal/model"
)

// Step описывает шаг сессии голосования.
type Step string

const (
	StepPayment Step = "payment"
	StepVoting  Step = "voting"
	StepSuccess Step = "success"
)

// ErrNoVotesRemaining возвращается при попытке добавить голос с нулевым остатком бюджета.
var (
	ErrNoVotesRemaining = errors.New("no votes remaining")
	// ErrNoAllocation возвращается при попытке снять голос, который не был добавлен.
	ErrNoAllocation = errors.New("no allocation for nominee in category")
	// ErrNotVoting возвращается, если операция допустима только на шаге голосования.
	ErrNotVoting = errors.New("session is not in voting step")
)

// Session хранит состояние сессии между оплатой и отправкой голосов.
// Allocations отображает категорию в упорядоченный список номинантов,
// по одному элементу на единицу голоса.
type Session struct {
	Step           Step                `json:"step"`
	Phone          string              `json:"phone"`
	Amount         int64               `json:"amount"`
	Allocations    map[string][]string `json:"allocations"`
	PaymentRef     string              `json:"payment_ref"`
	VotesRemaining int64               `json:"votes_remaining"`
}

// New создаёт сессию для подтверждённого платежа: бюджет голосов равен
// оплаченной сумме, распределение пустое.
func New(reference, phone string, amount int64) *Session {
	return &Session{
		Step:           StepVoting,
		Phone:          phone,
		Amount:         amount,
		Allocations:    map[string][]string{},
		PaymentRef:     reference,
		VotesRemaining: amount,
	}
}

// Add добавляет одну единицу голоса номинанту в категории, уменьшая остаток
// бюджета. При нулевом остатке состояние не меняется.
func (s *Session) Add(categoryID, nomineeID string) error {
	if s.Step != StepVoting {
		return ErrNotVoting
	}
	if s.VotesRemaining <= 0 {
		return ErrNoVotesRemaining
	}

	if s.Allocations == nil {
		s.Allocations = map[string][]string{}
	}
	s.Allocations[categoryID] = append(s.Allocations[categoryID], nomineeID)
	s.VotesRemaining--

	return nil
}

// Remove снимает одну единицу голоса с номинанта в категории, возвращая её в
// бюджет. Если таких голосов нет, состояние не меняется.
func (s *Session) Remove(categoryID, nomineeID string) error {
	if s.Step != StepVoting {
		return ErrNotVoting
	}

	current := s.Allocations[categoryID]
	for i, id := range current {
		if id == nomineeID {
			s.Allocations[categoryID] = append(current[:i:i], current[i+1:]...)
			if len(s.Allocations[categoryID]) == 0 {
				delete(s.Allocations, categoryID)
			}
			s.VotesRemaining++
			return nil
		}
	}

	return ErrNoAllocation
}

// TotalAllocated возвращает суммарное число распределённых единиц голосов.
func (s *Session) TotalAllocated() int64 {
	var total int64
	for _, nominees := range s.Allocations {
		total += int64(len(nominees))
	}
	return total
}

// Flatten разворачивает Allocations в детерминированную последовательность
// единиц голосов: категории в лексикографическом порядке, внутри категории —
// порядок добавления.
func (s *Session) Flatten() []model.VoteUnit {
	categories := make([]string, 0, len(s.Allocations))
	for categoryID := range s.Allocations {
		categories = append(categories, categoryID)
	}
	sort.Strings(categories)

	var units []model.VoteUnit
	for _, categoryID := range categories {
		for i, nomineeID := range s.Allocations[categoryID] {
			units = append(units, model.VoteUnit{
				CategoryID: categoryID,
				NomineeID:  nomineeID,
				Ordinal:    i,
			})
		}
	}

	return units
}

// Marshal сериализует состояние сессии в JSON.
func (s *Session) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

// Unmarshal восстанавливает сессию из JSON. Сессия без paymentRef считается
// повреждённой: сохранение допустимо только после оплаты.
func Unmarshal(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	if s.PaymentRef == "" {
		return nil, errors.New("session has no payment reference")
	}
	if s.Allocations == nil {
		s.Allocations = map[string][]string{}
	}

	return &s, nil
}
