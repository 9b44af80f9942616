// Package apperrors is the error taxonomy shared by every layer of the
// engine (spec §7). Sentinel values are checked with errors.Is; the two
// structured types carry the detail a sentinel can't.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is invalid or missing configuration. Fatal before start.
	ErrConfig = errors.New("config error")
	// ErrPreconditionFailed is a pre-flight failure: non-flat account or
	// mismatched symbol rules across the two sessions.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrInfeasiblePlan means SharedGridEngine could not satisfy
	// min_notional within its iteration budget.
	ErrInfeasiblePlan = errors.New("infeasible plan")
	// ErrTimeout means an exchange call's status is unknown; callers must
	// reconcile via a snapshot query before retrying.
	ErrTimeout = errors.New("timeout")
	// ErrTransient covers network errors, rate limits and 5xx responses
	// that are safe to retry with backoff.
	ErrTransient = errors.New("transient error")
	// ErrStreamDisconnect marks a user- or book-stream disconnection.
	ErrStreamDisconnect = errors.New("stream disconnected")
)

// ExchangeRejectedError wraps an exchange's refusal of an order (bad price,
// insufficient margin, filter violation). It is never retried automatically
// — the level it applies to moves to FAILED for the remainder of the epoch.
type ExchangeRejectedError struct {
	Code    string
	Message string
}

func (e *ExchangeRejectedError) Error() string {
	return fmt.Sprintf("exchange rejected order [%s]: %s", e.Code, e.Message)
}

// Is lets errors.Is(err, apperrors.ErrExchangeRejectedClass) match any
// instance regardless of code/message.
func (e *ExchangeRejectedError) Is(target error) bool {
	return target == ErrExchangeRejectedClass
}

// ErrExchangeRejectedClass is the comparison target for errors.Is against
// any *ExchangeRejectedError.
var ErrExchangeRejectedClass = errors.New("exchange rejected")

// RiskBreachError marks the reason emergency_unwind was triggered: channel
// breakout, margin ratio or drawdown. It is idempotent — a second breach
// while already unwinding is a no-op, not a second error.
type RiskBreachError struct {
	Reason string
}

func (e *RiskBreachError) Error() string {
	return fmt.Sprintf("risk breach: %s", e.Reason)
}

func (e *RiskBreachError) Is(target error) bool {
	return target == ErrRiskBreachClass
}

// ErrRiskBreachClass is the comparison target for errors.Is against any
// *RiskBreachError.
var ErrRiskBreachClass = errors.New("risk breach")

// IsTransient reports whether an error should be retried locally with
// backoff rather than surfaced immediately (network timeout, rate limit,
// 5xx). ErrTimeout is deliberately excluded: a timed-out call's outcome is
// unknown and must be reconciled before any retry, not blindly resent.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrStreamDisconnect)
}
