package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", 2, time.Minute)
	cb.SetClock(func() time.Time { return now })

	boom := errors.New("boom")
	fail := func() error { return boom }
	assert.ErrorIs(t, cb.Do(fail, nil), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Do(fail, nil), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Do(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.ErrorIs(t, cb.Do(fail, nil), boom)
	assert.Equal(t, StateOpen, cb.State(), "半开探测失败应重新打开")

	now = now.Add(2 * time.Minute)
	assert.NoError(t, cb.Do(func() error { return nil }, nil))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerIgnoresUncountableErrors(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)
	benign := errors.New("no data")
	for i := 0; i < 3; i++ {
		err := cb.Do(func() error { return benign }, func(err error) bool { return !errors.Is(err, benign) })
		assert.ErrorIs(t, err, benign)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "HALF-OPEN", StateHalfOpen.String())
}
