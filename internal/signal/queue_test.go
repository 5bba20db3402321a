package signal

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSignal(wallet, token string, ts time.Time) Signal {
	return Signal{
		SourceWallet: wallet,
		Token:        token,
		AmountSOL:    decimal.NewFromFloat(1.5),
		DetectedAt:   ts,
	}
}

func TestQueue_PushAndClaimFIFO(t *testing.T) {
	q := NewQueue(10)
	ts := time.Now()

	first, ok := q.Push(newTestSignal("w1", "tok-a", ts))
	require.True(t, ok)
	_, ok = q.Push(newTestSignal("w2", "tok-b", ts))
	require.True(t, ok)

	claimed, ok := q.Claim()
	require.True(t, ok)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.Equal(t, 1, q.Pending())
}

func TestQueue_DedupByWalletTokenTimestamp(t *testing.T) {
	q := NewQueue(10)
	ts := time.Now()

	_, ok := q.Push(newTestSignal("w1", "tok-a", ts))
	require.True(t, ok)

	// Same triple is never admitted twice.
	_, ok = q.Push(newTestSignal("w1", "tok-a", ts))
	assert.False(t, ok)

	// A different timestamp is a new event.
	_, ok = q.Push(newTestSignal("w1", "tok-a", ts.Add(time.Minute)))
	assert.True(t, ok)

	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Pushed)
	assert.Equal(t, int64(1), stats.Duplicates)
}

func TestQueue_SingleConsumerPerSignal(t *testing.T) {
	q := NewQueue(100)
	for i := 0; i < 20; i++ {
		_, ok := q.Push(newTestSignal("w1", "tok", time.Now().Add(time.Duration(i)*time.Second)))
		require.True(t, ok)
	}

	var mu sync.Mutex
	claims := make(map[string]int)
	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				sig, ok := q.Claim()
				if !ok {
					return
				}
				mu.Lock()
				claims[sig.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claims, 20)
	for id, count := range claims {
		assert.Equal(t, 1, count, "signal %s claimed more than once", id)
	}
}

func TestQueue_Resolve(t *testing.T) {
	q := NewQueue(10)
	_, ok := q.Push(newTestSignal("w1", "tok-a", time.Now()))
	require.True(t, ok)

	sig, ok := q.Claim()
	require.True(t, ok)

	q.Resolve(sig.ID, true)
	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Executed)
	assert.Equal(t, int64(0), stats.Skipped)

	// Resolving twice is a no-op.
	q.Resolve(sig.ID, false)
	stats = q.Stats()
	assert.Equal(t, int64(1), stats.Executed)
	assert.Equal(t, int64(0), stats.Skipped)
}

func TestQueue_BoundedPending(t *testing.T) {
	q := NewQueue(2)
	ts := time.Now()

	_, ok := q.Push(newTestSignal("w1", "tok-a", ts))
	require.True(t, ok)
	_, ok = q.Push(newTestSignal("w2", "tok-b", ts))
	require.True(t, ok)
	_, ok = q.Push(newTestSignal("w3", "tok-c", ts))
	assert.False(t, ok)

	assert.Equal(t, int64(1), q.Stats().Dropped)
}

func TestQueue_OnChangeObservesAdmissionAndResolution(t *testing.T) {
	q := NewQueue(10)

	var mu sync.Mutex
	var observed []Status
	done := make(chan struct{}, 2)
	q.SetOnChange(func(sig Signal) {
		mu.Lock()
		observed = append(observed, sig.Status)
		mu.Unlock()
		done <- struct{}{}
	})

	pushed, ok := q.Push(newTestSignal("w1", "tok-a", time.Now()))
	require.True(t, ok)
	<-done

	claimed, ok := q.Claim()
	require.True(t, ok)
	require.Equal(t, pushed.ID, claimed.ID)
	q.Resolve(claimed.ID, true)
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, observed, 2)
	assert.Equal(t, StatusPending, observed[0])
	assert.Equal(t, StatusExecuted, observed[1])
}

func TestQueue_CleanupDropsResolvedOnly(t *testing.T) {
	q := NewQueue(10)
	ts := time.Now()

	executedSig, _ := q.Push(newTestSignal("w1", "tok-a", ts))
	q.Push(newTestSignal("w2", "tok-b", ts))

	claimed, _ := q.Claim()
	require.Equal(t, executedSig.ID, claimed.ID)
	q.Resolve(claimed.ID, true)

	// Resolved entries older than maxAge go away; pending ones stay.
	removed := q.Cleanup(0)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, q.Pending())
}
