package scenario

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/agrisim/internal/metrics"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

type countingLoader struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (l *countingLoader) load(_ context.Context, key core.Key) (core.FeatureVector, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return core.FeatureVector{}, l.err
	}
	v := core.NewFeatureVector(key)
	v.Values["rain_m06"] = core.Some(float64(l.calls.Load()))
	return v, nil
}

func TestCacheHitsUntilGenerationChanges(t *testing.T) {
	var gen atomic.Int64
	l := &countingLoader{}
	m := metrics.New()
	c, err := NewCache(8, l.load, func(context.Context) (int64, error) { return gen.Load(), nil }, m)
	require.NoError(t, err)
	ctx := context.Background()
	key := core.Key{DistrictID: "pune", Year: 2001, Crop: "rice"}

	first, err := c.Get(ctx, key)
	require.NoError(t, err)
	again, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int32(1), l.calls.Load())
	assert.True(t, first.Equal(again))

	// callers get copies
	again.Values["rain_m06"] = core.Some(-1)
	third, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, core.Some(1), third.Get("rain_m06"))

	gen.Add(1)
	fresh, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int32(2), l.calls.Load())
	assert.Equal(t, core.Some(2), fresh.Get("rain_m06"))
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCacheSharesConcurrentMisses(t *testing.T) {
	l := &countingLoader{delay: 50 * time.Millisecond}
	c, err := NewCache(0, l.load, func(context.Context) (int64, error) { return 0, nil }, nil)
	require.NoError(t, err)
	key := core.Key{DistrictID: "pune", Year: 2001, Crop: "rice"}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), key)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), l.calls.Load())
}

func TestCacheDoesNotKeepErrors(t *testing.T) {
	l := &countingLoader{err: core.ErrNotFound}
	c, err := NewCache(4, l.load, func(context.Context) (int64, error) { return 0, nil }, nil)
	require.NoError(t, err)
	key := core.Key{DistrictID: "x", Year: 2001, Crop: "rice"}

	_, err = c.Get(context.Background(), key)
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = c.Get(context.Background(), key)
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, int32(2), l.calls.Load())
	assert.Equal(t, 0, c.Len())

	boom := errors.New("generation unavailable")
	c, err = NewCache(4, l.load, func(context.Context) (int64, error) { return 0, boom }, nil)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), key)
	require.ErrorIs(t, err, boom)
}
