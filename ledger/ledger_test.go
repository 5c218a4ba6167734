package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bilansoft/approvalflow/model"
)

type fakeCreator struct {
	entryID string
	err     error
	calls   int
}

func (f *fakeCreator) CreateEntry(ctx context.Context, req *Request) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.entryID, nil
}

func TestBreakerCreatorSuccess(t *testing.T) {
	target := &fakeCreator{entryID: "entry-42"}
	creator := NewBreakerCreator(target, time.Second)

	entryID, err := creator.CreateEntry(context.Background(), &Request{InstanceID: "wi-1"})
	assert.Nil(t, err)
	assert.Equal(t, "entry-42", entryID)
	assert.Equal(t, 1, target.calls)
}

func TestBreakerCreatorWrapsFailure(t *testing.T) {
	target := &fakeCreator{err: errors.New("ledger unavailable")}
	creator := NewBreakerCreator(target, time.Second)

	_, err := creator.CreateEntry(context.Background(), &Request{InstanceID: "wi-1"})
	assert.ErrorIs(t, err, model.ErrDependency)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	target := &fakeCreator{err: errors.New("ledger unavailable")}
	creator := NewBreakerCreator(target, time.Second)

	for i := 0; i < 5; i++ {
		_, err := creator.CreateEntry(context.Background(), &Request{})
		assert.ErrorIs(t, err, model.ErrDependency)
	}

	// breaker is open; the target stops being called
	assert.Equal(t, 3, target.calls)
}
