package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursebot/courserag/internal/llm"
)

func TestGetOrCreate(t *testing.T) {
	s := NewStore(4)

	id := s.GetOrCreate("")
	assert.NotEmpty(t, id)
	assert.Empty(t, s.History(id))

	assert.Equal(t, "unknown-id", s.GetOrCreate("unknown-id"))
	assert.Equal(t, 2, s.Len())

	s.Append(id, Turn{Role: llm.RoleUser, Content: "hi"})
	assert.Equal(t, id, s.GetOrCreate(id))
	assert.Len(t, s.History(id), 1)
}

func TestAppend_KeepsLastWindowTurnsInOrder(t *testing.T) {
	for _, n := range []int{0, 1, 3, 4, 5, 11} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			s := NewStore(4)
			id := s.GetOrCreate("")
			for i := 0; i < n; i++ {
				s.Append(id, Turn{Role: llm.RoleUser, Content: fmt.Sprint(i)})
			}

			got := s.History(id)
			want := []Turn{}
			for i := max(0, n-4); i < n; i++ {
				want = append(want, Turn{Role: llm.RoleUser, Content: fmt.Sprint(i)})
			}
			assert.Len(t, got, len(want))
			if len(want) > 0 {
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestHistory_ReturnsSnapshot(t *testing.T) {
	s := NewStore(4)
	id := s.GetOrCreate("")
	s.Append(id, Turn{Role: llm.RoleUser, Content: "a"})

	h := s.History(id)
	h[0].Content = "mutated"
	assert.Equal(t, "a", s.History(id)[0].Content)
}

func TestDelete(t *testing.T) {
	s := NewStore(4)
	id := s.GetOrCreate("")
	assert.True(t, s.Delete(id))
	assert.False(t, s.Delete(id))
	assert.Nil(t, s.History(id))
}

func TestLock_SerialisesSameSession(t *testing.T) {
	s := NewStore(1000)
	id := s.GetOrCreate("")

	const workers = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			unlock, err := s.Lock(context.Background(), id)
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			// A query appends its user and assistant turns back to back.
			s.Append(id, Turn{Role: llm.RoleUser, Content: fmt.Sprint(w)})
			s.Append(id, Turn{Role: llm.RoleAssistant, Content: fmt.Sprint(w)})
		}(w)
	}
	wg.Wait()

	h := s.History(id)
	require.Len(t, h, 2*workers)
	seen := make(map[string]bool)
	for i := 0; i < len(h); i += 2 {
		assert.Equal(t, llm.RoleUser, h[i].Role)
		assert.Equal(t, llm.RoleAssistant, h[i+1].Role)
		assert.Equal(t, h[i].Content, h[i+1].Content)
		assert.False(t, seen[h[i].Content])
		seen[h[i].Content] = true
	}

	s.mu.Lock()
	assert.Empty(t, s.locks)
	s.mu.Unlock()
}

func TestLock_DistinctSessionsDoNotBlock(t *testing.T) {
	s := NewStore(4)
	unlockA, err := s.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		defer close(done)
		unlock, err := s.Lock(context.Background(), "b")
		if assert.NoError(t, err) {
			unlock()
		}
	}()
	<-done

	// Calling unlock twice is harmless.
	unlockA()
}

func TestLock_GivesUpWhenContextEnds(t *testing.T) {
	s := NewStore(4)
	unlock, err := s.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = s.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	unlock()
	s.mu.Lock()
	assert.Empty(t, s.locks)
	s.mu.Unlock()

	again, err := s.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
}
