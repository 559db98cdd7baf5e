package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spos/internal/syncjob"
)

type SessionState string

const (
	SessionOpeningControl SessionState = "opening_control"
	SessionOpened         SessionState = "opened"
	SessionClosingControl SessionState = "closing_control"
	SessionClosed         SessionState = "closed"
)

var (
	ErrSessionOpen = errors.New("engine: a session is already open")
	ErrNoSession   = errors.New("engine: no open session")
)

// Operator identifies the cashier running a session.
type Operator struct {
	ID   string
	Name string
}

// Session is opaque metadata about the working session.
type Session struct {
	ID             int64
	Name           string
	Operator       Operator
	OpeningBalance decimal.Decimal
	State          SessionState
	StartAt        time.Time
	StopAt         time.Time

	ordersCount int
}

// OrdersCount is the number of orders checked out during the session.
func (s *Session) OrdersCount() int { return s.ordersCount }

// OpenSession starts a session for op. Only one session may be open at a time.
// Sessions are numbered per engine and named POS/<year>/<seq>.
func (e *Engine) OpenSession(op Operator, openingBalance decimal.Decimal) (*Session, error) {
	if e.session != nil && e.session.State != SessionClosed {
		return nil, ErrSessionOpen
	}
	e.sessions++
	now := e.now()
	s := &Session{
		ID:             e.sessions,
		Name:           fmt.Sprintf("POS/%d/%03d", now.Year(), e.sessions),
		Operator:       op,
		OpeningBalance: openingBalance,
		State:          SessionOpeningControl,
		StartAt:        now,
	}
	s.State = SessionOpened
	e.session = s
	e.log.Info("session opened",
		zap.Int64("session_id", s.ID),
		zap.String("name", s.Name),
		zap.String("operator", op.Name))
	return s, nil
}

// Session returns the current session handle, or nil.
func (e *Engine) Session() *Session { return e.session }

// CloseSession closes the open session and pushes a SessionClose payload.
func (e *Engine) CloseSession(closingBalance decimal.Decimal) error {
	s := e.session
	if s == nil || s.State != SessionOpened {
		return ErrNoSession
	}
	s.State = SessionClosingControl
	s.StopAt = e.now()
	e.syncer.Push(syncjob.SessionClose{
		SessionID:      s.ID,
		SessionName:    s.Name,
		OperatorID:     s.Operator.ID,
		OpeningBalance: s.OpeningBalance,
		ClosingBalance: closingBalance,
		OrdersCount:    s.ordersCount,
		ClosedAt:       s.StopAt,
	})
	s.State = SessionClosed
	e.metrics.SessionsClosed.Inc()
	e.log.Info("session closed",
		zap.Int64("session_id", s.ID),
		zap.Int("orders", s.ordersCount),
		zap.String("closing_balance", closingBalance.String()))
	return nil
}
