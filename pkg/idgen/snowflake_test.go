package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflake_UniqueUnderConcurrency(t *testing.T) {
	gen, err := NewSnowflake(3)
	require.NoError(t, err)

	const workers, perWorker = 8, 2000
	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, gen.Generate())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestSnowflake_Increasing(t *testing.T) {
	gen, err := NewSnowflake(1)
	require.NoError(t, err)
	prev := gen.Generate()
	for i := 0; i < 1000; i++ {
		next := gen.Generate()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestNewSnowflake_RejectsWorkerOutOfRange(t *testing.T) {
	_, err := NewSnowflake(maxWorkerID + 1)
	assert.ErrorIs(t, err, ErrInvalidWorkerID)
	_, err = NewSnowflake(-1)
	assert.ErrorIs(t, err, ErrInvalidWorkerID)
	assert.ErrorIs(t, Init(-1), ErrInvalidWorkerID)
}

func TestGenerateNo_Prefix(t *testing.T) {
	a := GenerateMovementNo()
	b := GenerateNo(PrefixTransfer)
	assert.True(t, strings.HasPrefix(a, PrefixMovement))
	assert.True(t, strings.HasPrefix(b, PrefixTransfer))
	assert.NotEqual(t, strings.TrimPrefix(a, PrefixMovement), strings.TrimPrefix(b, PrefixTransfer))
}

func TestSnowflake_ClockRollbackStaysIncreasing(t *testing.T) {
	gen, err := NewSnowflake(2)
	require.NoError(t, err)
	ms := epoch + 10_000
	gen.clock = func() int64 { return ms }

	first := gen.Generate()
	ms -= 5 // 时钟回拨
	second := gen.Generate()
	require.Greater(t, second, first)

	ms += 10
	third := gen.Generate()
	require.Greater(t, third, second)
	assert.Equal(t, int64(0), third&maxSequence)
}

func TestSnowflake_SequenceOverflowBorrowsNextMillisecond(t *testing.T) {
	gen, err := NewSnowflake(2)
	require.NoError(t, err)
	ms := epoch + 10_000
	gen.clock = func() int64 { return ms }

	var last int64
	for i := 0; i <= maxSequence+1; i++ {
		id := gen.Generate()
		require.Greater(t, id, last)
		last = id
	}
	assert.Equal(t, ms+1-epoch, last>>timestampShift)
}
