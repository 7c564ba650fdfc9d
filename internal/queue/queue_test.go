package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips query", "https://link.example.com/a/XYZ?src=10&addtag=1", "https://link.example.com/a/xyz"},
		{"strips fragment", "https://link.example.com/a/XYZ#top", "https://link.example.com/a/xyz"},
		{"defaults scheme", "link.example.com/a/abc", "https://link.example.com/a/abc"},
		{"case folds", "HTTPS://Link.Example.Com/A/AbC", "https://link.example.com/a/abc"},
		{"trailing slash", "https://link.example.com/a/abc/", "https://link.example.com/a/abc"},
		{"empty", "   ", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeURL(tc.in))
		})
	}
}

func TestQueue_PushDeduplicatesWithinRun(t *testing.T) {
	q := New(nil)

	require.True(t, q.Push(WorkItem{URL: "https://link.example.com/a/one?x=1"}))
	require.False(t, q.Push(WorkItem{URL: "https://link.example.com/a/one?x=2"}))
	require.False(t, q.Push(WorkItem{URL: "HTTPS://LINK.EXAMPLE.COM/a/one"}))
	require.Equal(t, 1, q.Size())
}

func TestQueue_PushConsultsUploadHistory(t *testing.T) {
	uploaded := map[string]bool{
		"https://link.example.com/a/old": true,
	}
	q := New(func(u string) bool { return uploaded[u] })

	require.False(t, q.Push(WorkItem{URL: "https://link.example.com/a/old?tag=z"}))
	require.True(t, q.Push(WorkItem{URL: "https://link.example.com/a/new"}))
	require.Equal(t, 1, q.Size())
}

func TestQueue_PopFIFO(t *testing.T) {
	q := New(nil)
	q.Push(WorkItem{URL: "https://e.com/1"})
	q.Push(WorkItem{URL: "https://e.com/2"})
	q.Push(WorkItem{URL: "https://e.com/3"})

	ctx := context.Background()
	for _, want := range []string{"https://e.com/1", "https://e.com/2", "https://e.com/3"} {
		item, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, want, item.URL)
	}
}

func TestQueue_PopTimesOutWhenEmpty(t *testing.T) {
	q := New(nil)

	_, err := q.Pop(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestQueue_PopWakesOnMidRunPush(t *testing.T) {
	q := New(nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		q.Push(WorkItem{URL: "https://e.com/late"})
	}()

	item, err := q.Pop(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "https://e.com/late", item.URL)
}

func TestQueue_PopHonorsCancellation(t *testing.T) {
	q := New(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx, 5*time.Second)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after cancellation")
	}
}

func TestQueue_RequeueBypassesDedupe(t *testing.T) {
	q := New(nil)
	require.True(t, q.Push(WorkItem{URL: "https://link.coupang.com/a/one"}))
	require.True(t, q.Push(WorkItem{URL: "https://link.coupang.com/a/two"}))

	item, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)

	// A plain Push would be rejected as a duplicate.
	require.False(t, q.Push(item))

	q.Requeue(item)
	require.Equal(t, 2, q.Size())

	// Requeued items come back out first.
	head, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, item.URL, head.URL)
}
