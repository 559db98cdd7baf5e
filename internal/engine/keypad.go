package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EntryMode selects which field of the selected line a keypad entry edits.
type EntryMode string

const (
	ModeQuantity EntryMode = "qty"
	ModePrice    EntryMode = "price"
	ModeDiscount EntryMode = "disc"
)

var (
	ErrUnknownMode  = errors.New("engine: unknown entry mode")
	ErrInvalidEntry = errors.New("engine: invalid numeric entry")
)

// ApplyEntry writes value to the active order's selected line (see
// order.SelectedLine). With no active order or an empty order it does nothing.
// Discounts are clamped, never rejected.
func (e *Engine) ApplyEntry(mode EntryMode, value string) error {
	switch mode {
	case ModeQuantity, ModePrice, ModeDiscount:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		e.metrics.KeypadRejected.Inc()
		return fmt.Errorf("%w: %q", ErrInvalidEntry, value)
	}
	o := e.ActiveOrder()
	if o == nil {
		return nil
	}
	l := o.SelectedLine()
	if l == nil {
		return nil
	}
	switch mode {
	case ModeQuantity:
		l.SetQuantity(v)
	case ModePrice:
		l.SetPrice(v)
	case ModeDiscount:
		l.SetDiscount(v)
	}
	e.metrics.KeypadEntries.WithLabelValues(string(mode)).Inc()
	e.log.Debug("keypad entry", zap.String("mode", string(mode)), zap.String("value", v.String()), zap.String("line_id", l.ID()))
	return nil
}

// DeleteSelected removes the selected line of the active order.
func (e *Engine) DeleteSelected() {
	o := e.ActiveOrder()
	if o == nil {
		return
	}
	if l := o.SelectedLine(); l != nil {
		o.RemoveLine(l)
	}
}
