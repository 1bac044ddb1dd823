// Package providertest provides an in-memory provider.Gateway for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/smsbra/otp-api/internal/domain/provider"
)

// Operation names used for error injection and call counting.
const (
	OpRequestNumber  = "request_number"
	OpPollStatus     = "poll_status"
	OpAdditionalCode = "additional_code"
	OpCancel         = "cancel"
	OpConfirm        = "confirm"
)

// Gateway is a scriptable fake. Activations start awaiting a code.
type Gateway struct {
	mu       sync.Mutex
	seq      int
	queued   map[string][]error
	sticky   map[string]error
	calls    map[string]int
	statuses map[string]provider.Status
	balance  decimal.Decimal
}

func New() *Gateway {
	return &Gateway{
		queued:   make(map[string][]error),
		sticky:   make(map[string]error),
		calls:    make(map[string]int),
		statuses: make(map[string]provider.Status),
		balance:  decimal.NewFromInt(100),
	}
}

// FailNext makes the next len(errs) calls of op return errs in order.
// A nil entry lets that call succeed.
func (g *Gateway) FailNext(op string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued[op] = append(g.queued[op], errs...)
}

// FailAlways makes every call of op return err until cleared with nil.
func (g *Gateway) FailAlways(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.sticky, op)
		return
	}
	g.sticky[op] = err
}

// DeliverCode makes the next poll of activationID report code.
func (g *Gateway) DeliverCode(activationID, code string) {
	g.SetStatus(activationID, provider.Status{Kind: provider.StatusCodeReceived, Code: code})
}

// SetStatus overrides what PollStatus reports for activationID.
func (g *Gateway) SetStatus(activationID string, st provider.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[activationID] = st
}

// Calls returns how many times op was invoked, failures included.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) fail(op string) error {
	g.calls[op]++
	if q := g.queued[op]; len(q) > 0 {
		g.queued[op] = q[1:]
		return q[0]
	}
	return g.sticky[op]
}

func (g *Gateway) RequestNumber(_ context.Context, req provider.NumberRequest) (*provider.Number, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpRequestNumber); err != nil {
		return nil, err
	}
	g.seq++
	id := fmt.Sprintf("act-%d", g.seq)
	g.statuses[id] = provider.Status{Kind: provider.StatusAwaitingCode}
	return &provider.Number{ActivationID: id, PhoneNumber: fmt.Sprintf("+5511999%06d", g.seq)}, nil
}

func (g *Gateway) PollStatus(_ context.Context, activationID string) (provider.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpPollStatus); err != nil {
		return provider.Status{}, err
	}
	st, ok := g.statuses[activationID]
	if !ok {
		return provider.Status{Kind: provider.StatusUnknown}, nil
	}
	return st, nil
}

func (g *Gateway) RequestAdditionalCode(_ context.Context, activationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpAdditionalCode); err != nil {
		return err
	}
	g.statuses[activationID] = provider.Status{Kind: provider.StatusAwaitingRetry}
	return nil
}

func (g *Gateway) Cancel(_ context.Context, activationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpCancel); err != nil {
		return err
	}
	g.statuses[activationID] = provider.Status{Kind: provider.StatusCancelled}
	return nil
}

func (g *Gateway) ConfirmCompletion(_ context.Context, activationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fail(OpConfirm)
}

// Balance and Availability satisfy provider.Inspector.
func (g *Gateway) Balance(context.Context) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, nil
}

func (g *Gateway) Availability(context.Context, string) (map[string]int, error) {
	return map[string]int{"wa": 10, "tg": 3}, nil
}

var (
	_ provider.Gateway   = (*Gateway)(nil)
	_ provider.Inspector = (*Gateway)(nil)
)
