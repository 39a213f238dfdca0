package subscription

import (
	"time"

	"exhub/internal/exchange"
)

type State string

const (
	StatePending State = "pending"
	StateActive  State = "active"
	StateFailed  State = "failed"
)

// Record 是订阅表中的一行；对外返回的都是副本。
type Record struct {
	ID        string            `json:"id"`
	Exchange  string            `json:"exchange"`
	Symbol    string            `json:"symbol"`
	Kind      exchange.DataKind `json:"kind"`
	State     State             `json:"state"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`

	handlers exchange.Handlers
}

// Handlers 返回登记时传入的回调。
func (r Record) Handlers() exchange.Handlers { return r.handlers }

// Target 是一条待订阅的 (品种, 数据类别)，user_data 的 Symbol 为空。
type Target struct {
	Symbol string            `json:"symbol"`
	Kind   exchange.DataKind `json:"kind"`
}

func key(symbol string, kind exchange.DataKind) string {
	return symbol + "|" + string(kind)
}
