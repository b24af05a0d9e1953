package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAndProbes(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return now }
	boom := errors.New("boom")

	require.NoError(t, b.Allow())
	b.Record(boom)
	assert.Equal(t, Closed, b.State())
	require.NoError(t, b.Allow())
	b.Record(boom)
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	now = now.Add(time.Minute)
	require.NoError(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen, "only one probe")

	b.Record(boom)
	assert.Equal(t, Open, b.State())

	now = now.Add(time.Minute)
	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, Closed, b.State())
}

func TestBreakers(t *testing.T) {
	r := NewBreakers(1, time.Minute)
	a := r.For("LOCNAMES_LD4L_CACHE")
	assert.Same(t, a, r.For("LOCNAMES_LD4L_CACHE"))
	a.Record(errors.New("x"))
	states := r.States()
	assert.Equal(t, Open, states["LOCNAMES_LD4L_CACHE"])
	assert.Equal(t, "open", states["LOCNAMES_LD4L_CACHE"].String())
}
