// Package ledger adapts the external bookkeeping-entry collaborator. The
// engine calls it exactly once per approved instance whose definition
// requests an entry; a failure never reverts the approved outcome.
package ledger

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/bilansoft/approvalflow/model"
)

// Request carries the instance's extracted financial fields and the
// definition's entry template reference.
type Request struct {
	InstanceID     string                 `json:"instanceId"`
	DocumentID     string                 `json:"documentId"`
	OrganizationID string                 `json:"organizationId"`
	TemplateRef    string                 `json:"templateRef"`
	Fields         map[string]interface{} `json:"fields"`
}

// EntryCreator is the bookkeeping collaborator: account selection and VAT
// splitting happen behind it. The response is an opaque entry identifier.
type EntryCreator interface {
	CreateEntry(ctx context.Context, req *Request) (string, error)
}

const defaultTimeout = 10 * time.Second

// BreakerCreator wraps an EntryCreator with a circuit breaker and a bounded
// per-call timeout so a stuck collaborator cannot hold an instance open.
type BreakerCreator struct {
	target  EntryCreator
	breaker *gobreaker.CircuitBreaker[string]
	timeout time.Duration
}

func NewBreakerCreator(target EntryCreator, timeout time.Duration) *BreakerCreator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	settings := gobreaker.Settings{
		Name: "bookkeeping-entry",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &BreakerCreator{
		target:  target,
		breaker: gobreaker.NewCircuitBreaker[string](settings),
		timeout: timeout,
	}
}

func (c *BreakerCreator) CreateEntry(ctx context.Context, req *Request) (string, error) {
	entryID, err := c.breaker.Execute(func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.target.CreateEntry(callCtx, req)
	})
	if err != nil {
		return "", model.DependencyErrorf("bookkeeping entry creation failed: %v", err)
	}
	return entryID, nil
}
