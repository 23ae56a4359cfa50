package symbols

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerhub/internal/domain"
)

var errMissing = errors.New("missing")

type fakeResolver struct {
	calls atomic.Int32
	delay time.Duration
	known map[string]domain.Symbol
}

func (f *fakeResolver) ResolveSymbol(ctx context.Context, name string) (domain.Symbol, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if err := ctx.Err(); err != nil {
		return domain.Symbol{}, err
	}
	s, ok := f.known[name]
	if !ok {
		return domain.Symbol{}, errMissing
	}
	return s, nil
}

func (f *fakeResolver) ResolveBrokerCode(ctx context.Context, venue, code string) (domain.Symbol, error) {
	return f.ResolveSymbol(ctx, domain.DisplayName(venue, code))
}

func newFake() *fakeResolver {
	sber := domain.Symbol{Board: "TQBR", Code: "SBER", Name: "TQBR.SBER", Decimals: 2, MinStep: 0.01, LotSize: 10}
	return &fakeResolver{known: map[string]domain.Symbol{
		"TQBR.SBER": sber,
		"SBER":      sber,
	}}
}

func TestResolveCaches(t *testing.T) {
	src := newFake()
	r := New(src, nil)
	ctx := context.Background()

	s, err := r.Resolve(ctx, "TQBR.SBER")
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.LotSize)

	_, err = r.Resolve(ctx, "TQBR.SBER")
	require.NoError(t, err)
	_, err = r.ResolveBrokerCode(ctx, "TQBR", "SBER")
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, 1, r.Len())
}

func TestResolveNotFoundIsNotCached(t *testing.T) {
	src := newFake()
	r := New(src, nil)

	_, err := r.Resolve(context.Background(), "TQBR.NOPE")
	assert.ErrorIs(t, err, errMissing)
	_, err = r.Resolve(context.Background(), "TQBR.NOPE")
	assert.ErrorIs(t, err, errMissing)
	assert.Equal(t, int32(2), src.calls.Load())

	_, ok := r.Cached("TQBR.NOPE")
	assert.False(t, ok)
}

func TestConcurrentMissesShareLookup(t *testing.T) {
	src := newFake()
	src.delay = 50 * time.Millisecond
	r := New(src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), "TQBR.SBER")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
}

func TestAddFillsDisplayName(t *testing.T) {
	r := New(newFake(), nil)
	r.Add(domain.Symbol{Board: "SPBFUT", Code: "SiZ4"})

	s, ok := r.Cached("SPBFUT.SiZ4")
	require.True(t, ok)
	assert.Equal(t, "SiZ4", s.Code)
}

func TestResolveCachesAlias(t *testing.T) {
	src := newFake()
	r := New(src, nil)
	ctx := context.Background()

	s, err := r.Resolve(ctx, "SBER")
	require.NoError(t, err)
	assert.Equal(t, "TQBR.SBER", s.Name)

	s, err = r.Resolve(ctx, "SBER")
	require.NoError(t, err)
	assert.Equal(t, "TQBR.SBER", s.Name)
	_, err = r.Resolve(ctx, "TQBR.SBER")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	cached, ok := r.Cached("SBER")
	require.True(t, ok)
	assert.Equal(t, "TQBR.SBER", cached.Name)
	assert.Equal(t, 1, r.Len())
}

func TestCanceledCallerDoesNotFailOthers(t *testing.T) {
	src := newFake()
	src.delay = 50 * time.Millisecond
	r := New(src, nil)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(first, "TQBR.SBER")
		firstErr <- err
	}()
	time.Sleep(5 * time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "TQBR.SBER")
		second <- err
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	assert.NoError(t, <-second)
	assert.Equal(t, int32(1), src.calls.Load())

	_, ok := r.Cached("TQBR.SBER")
	assert.True(t, ok)
}
