package api

import (
	"time"

	"github.com/shopspring/decimal"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

type Subscription struct {
	Plan      string     `json:"plan"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the subscription currently grants access.
func (s Subscription) Active() bool {
	return s.Status == "active" && (s.ExpiresAt == nil || s.ExpiresAt.After(time.Now()))
}

// BrokerKey is an exchange API key pair handed to the backend once.
type BrokerKey struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

type BrokerConnection struct {
	Broker    string `json:"broker"`
	Connected bool   `json:"connected"`
}

type BotState struct {
	Broker    string    `json:"broker"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ProfitPoint struct {
	Date time.Time       `json:"date"`
	PnL  decimal.Decimal `json:"pnl"`
}

type Stats struct {
	Broker        string          `json:"broker"`
	Balance       decimal.Decimal `json:"balance"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	WinRate       float64         `json:"win_rate"`
	OpenPositions int             `json:"open_positions"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Signal is one entry of the display feed.
type Signal struct {
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Confidence float64         `json:"confidence"`
	At         time.Time       `json:"at"`
}
