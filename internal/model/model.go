// Package model содержит доменные сущности сервиса платного голосования.
package model

import "time"

// Category представляет номинацию (категорию награды). Справочные данные,
// создаются администратором и доступны сервису только на чтение.
type Category struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Nominees []Nominee `json:"nominees"`
}

// Nominee представляет номинанта в категории. Поле Tally изменяется только
// транзакцией записи голосов.
type Nominee struct {
	ID         string  `json:"id"`
	CategoryID string  `json:"category_id"`
	Name       string  `json:"name"`
	Photo      string  `json:"photo,omitempty"`
	PhotoURL   string  `json:"photo_url,omitempty"`
	Tally      int64   `json:"tally"`
	Percentage float64 `json:"percentage"`
}

// VoteUnit описывает одну единицу голоса до записи в журнал. Ordinal нумерует
// единицы внутри категории и вместе с референсом платежа и категорией образует
// естественный ключ записи.
type VoteUnit struct {
	CategoryID string
	NomineeID  string
	Ordinal    int
}

// PaymentStatus описывает статус платежа во внешнем шлюзе.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSettled PaymentStatus = "SETTLED"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// Payment описывает инициированный платёж. Amount задаётся в целых единицах
// валюты; одна единица валюты даёт один голос.
type Payment struct {
	Reference  string
	PhoneHash  string
	Amount     int64
	Status     PaymentStatus
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
