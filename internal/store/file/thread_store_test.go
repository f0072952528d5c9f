package file

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/castellan-dev/castellan/internal/store"
)

func newThreadStore(t *testing.T) *ThreadStore {
	t.Helper()
	return NewThreadStore(t.TempDir())
}

func createThread(t *testing.T, s *ThreadStore, id string) store.Manifest {
	t.Helper()
	m, err := s.Create(context.Background(), store.Manifest{ID: id, AgentID: "assistant", Channel: "cli"})
	require.NoError(t, err)
	return m
}

func TestThreadMessageRoundTripPreservesUnicode(t *testing.T) {
	s := newThreadStore(t)
	createThread(t, s, "t1")

	content := "héllo wörld — 日本語 🎌 \"quotes\" and\nnewlines"
	err := s.AppendMessage(context.Background(), store.Message{
		ID: "m1", ThreadID: "t1", Role: store.RoleUser, Content: content, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	msgs, err := s.LoadMessages(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, content, msgs[0].Content)
}

func TestThreadReaderToleratesTruncatedTrailingLine(t *testing.T) {
	s := newThreadStore(t)
	createThread(t, s, "t1")

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendMessage(context.Background(), store.Message{
			ID: fmt.Sprintf("m%d", i), ThreadID: "t1", Role: store.RoleUser, Content: "msg",
		}))
	}

	// Simulate a crash mid-append: a partial JSON line at the tail.
	f, err := os.OpenFile(s.messagesPath("t1"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"m3","threadId":"t1","ro`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	msgs, err := s.LoadMessages(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
}

func TestThreadCorruptManifestIsNotSilentlyReset(t *testing.T) {
	s := newThreadStore(t)
	createThread(t, s, "t1")

	require.NoError(t, os.WriteFile(s.manifestPath("t1"), []byte("{not json"), 0o644))

	_, err := s.Get(context.Background(), "t1")
	require.ErrorIs(t, err, store.ErrStoreCorruption)
}

func TestThreadGetMissingReturnsNotFound(t *testing.T) {
	s := newThreadStore(t)
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrThreadNotFound)
}

// Two concurrent WithLock calls on the same thread never overlap: the
// second observes every message the first wrote.
func TestWithLockSerializesSameThread(t *testing.T) {
	s := newThreadStore(t)
	createThread(t, s, "t1")

	const turns = 8
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.WithLock(context.Background(), "t1", func(ctx context.Context) error {
				before, err := s.LoadMessages(ctx, "t1")
				require.NoError(t, err)
				// A suspension inside the lock must not admit another writer.
				time.Sleep(time.Millisecond)
				require.NoError(t, s.AppendMessage(ctx, store.Message{
					ID: fmt.Sprintf("u%d", i), ThreadID: "t1", Role: store.RoleUser, Content: "q",
				}))
				require.NoError(t, s.AppendMessage(ctx, store.Message{
					ID: fmt.Sprintf("a%d", i), ThreadID: "t1", Role: store.RoleAssistant, Content: "r",
				}))
				after, err := s.LoadMessages(ctx, "t1")
				require.NoError(t, err)
				require.Equal(t, len(before)+2, len(after))
				return nil
			})
		}(i)
	}
	wg.Wait()

	msgs, err := s.LoadMessages(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 2*turns)
	for i := 0; i < len(msgs); i += 2 {
		require.Equal(t, store.RoleUser, msgs[i].Role)
		require.Equal(t, store.RoleAssistant, msgs[i+1].Role)
	}
}

func TestWithLockDistinctThreadsDoNotBlock(t *testing.T) {
	s := newThreadStore(t)
	createThread(t, s, "a")
	createThread(t, s, "b")

	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = s.WithLock(context.Background(), "a", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	done := make(chan struct{})
	go func() {
		_ = s.WithLock(context.Background(), "b", func(ctx context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on thread b blocked behind thread a")
	}
	close(release)
}
