package credit

import (
	"context"
	"log/slog"
)

// Compensations is an ordered list of compensating actions for paid side
// effects. Workflow setup appends an action after each side effect succeeds
// (a credit deduction, a reservation); when a later setup step fails, Run
// executes the actions in reverse order. A compensation that itself fails is
// logged loudly and kept going past: a missed refund must surface in logs
// rather than silently double-charge.
type Compensations struct {
	logger  *slog.Logger
	actions []compensation
}

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCompensations creates an empty compensation list.
func NewCompensations(logger *slog.Logger) *Compensations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compensations{logger: logger}
}

// Add appends a compensating action for a side effect that just succeeded.
func (c *Compensations) Add(name string, fn func(ctx context.Context) error) {
	c.actions = append(c.actions, compensation{name: name, fn: fn})
}

// Len returns the number of registered actions.
func (c *Compensations) Len() int {
	return len(c.actions)
}

// Run executes all registered actions in reverse order and reports whether
// every one of them succeeded. The list is cleared afterwards so a retry
// cannot replay the same compensation twice.
func (c *Compensations) Run(ctx context.Context) bool {
	ok := true
	for i := len(c.actions) - 1; i >= 0; i-- {
		action := c.actions[i]
		if err := action.fn(ctx); err != nil {
			ok = false
			c.logger.Error("compensation failed",
				slog.String("action", action.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		c.logger.Info("compensation applied",
			slog.String("action", action.name),
		)
	}
	c.actions = nil
	return ok
}

// RefundAction builds a compensating refund for a deduction that was just
// made. The refund replays the deduction with a negated amount and its own
// audit reason.
func RefundAction(ledger Ledger, userID string, amount int, projectID string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return ledger.Deduct(ctx, userID, -amount, "refund: workflow setup failed", projectID)
	}
}
