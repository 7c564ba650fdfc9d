package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coupuas/threadauto/internal/backend"
	"github.com/coupuas/threadauto/internal/common"
	"github.com/coupuas/threadauto/internal/generate"
	"github.com/coupuas/threadauto/internal/history"
	"github.com/coupuas/threadauto/internal/logging"
	"github.com/coupuas/threadauto/internal/product"
	"github.com/coupuas/threadauto/internal/queue"
)

type fakeQuota struct {
	available    bool
	availableErr error

	reservations []backend.Reservation
	reserveErr   error
	reserveCalls int

	commits   []backend.Reservation
	commitErr error
	releases  []backend.Reservation
	useCalls  int
}

func (f *fakeQuota) CheckAvailable(ctx context.Context) (bool, error) {
	return f.available, f.availableErr
}

func (f *fakeQuota) Reserve(ctx context.Context) (backend.Reservation, error) {
	if f.reserveErr != nil {
		return backend.Reservation{}, f.reserveErr
	}
	i := f.reserveCalls
	f.reserveCalls++
	if i < len(f.reservations) {
		return f.reservations[i], nil
	}
	return backend.Reservation{ID: fmt.Sprintf("rsv-%d", i), Supported: true}, nil
}

func (f *fakeQuota) Commit(ctx context.Context, r backend.Reservation) error {
	if !r.Supported {
		f.useCalls++
	}
	f.commits = append(f.commits, r)
	return f.commitErr
}

func (f *fakeQuota) Release(ctx context.Context, r backend.Reservation) {
	if r.Supported {
		f.releases = append(f.releases, r)
	}
}

type fakePoster struct {
	loginErr   error
	composeErr map[string]error // payload title -> error
	composed   []generate.PostPayload
}

func (f *fakePoster) EnsureLogin(ctx context.Context) error { return f.loginErr }

func (f *fakePoster) ComposeThread(ctx context.Context, p generate.PostPayload) error {
	if err := f.composeErr[p.Title]; err != nil {
		return err
	}
	f.composed = append(f.composed, p)
	return nil
}

type fakeGenerator struct {
	nilFor   map[string]bool // title -> return nil
	products []generate.Product
}

func (f *fakeGenerator) BuildPayload(ctx context.Context, p generate.Product) *generate.PostPayload {
	f.products = append(f.products, p)
	if f.nilFor[p.Title] {
		return nil
	}
	return &generate.PostPayload{
		Title:      p.Title,
		Paragraphs: []generate.Paragraph{{Text: "hook " + p.Title}, {Text: p.URL}},
	}
}

type fakeParser struct {
	failFor   map[string]bool
	imagePath string
}

func (f *fakeParser) Parse(ctx context.Context, url string) (*product.Info, error) {
	if f.failFor[url] {
		return nil, errors.New("blocked")
	}
	return &product.Info{Title: "title " + url, FinalURL: url, ImagePath: f.imagePath}, nil
}

type fakeHistory struct {
	history.Repository
	added []history.Record
}

func (f *fakeHistory) Add(ctx context.Context, rec history.Record) error {
	f.added = append(f.added, rec)
	return nil
}

type fixture struct {
	orch    *Orchestrator
	queue   *queue.Queue
	quota   *fakeQuota
	poster  *fakePoster
	parser  *fakeParser
	hist    *fakeHistory
	gen     *fakeGenerator
	details []ItemDetail
}

func setup(t *testing.T, urls ...string) *fixture {
	t.Helper()
	f := &fixture{
		queue:  queue.New(func(string) bool { return false }),
		quota:  &fakeQuota{available: true},
		poster: &fakePoster{composeErr: map[string]error{}},
		parser: &fakeParser{failFor: map[string]bool{}},
		gen:    &fakeGenerator{nilFor: map[string]bool{}},
		hist:   &fakeHistory{},
	}
	for _, u := range urls {
		require.True(t, f.queue.Push(queue.WorkItem{URL: u}))
	}
	f.orch = New(Deps{
		Queue:     f.queue,
		Quota:     f.quota,
		Poster:    f.poster,
		Generator: f.gen,
		Parser:    f.parser,
		History:   f.hist,
		Logger:    logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		Events:    Events{Item: func(d ItemDetail) { f.details = append(f.details, d) }},
		PopWait:   10 * time.Millisecond,
	})
	return f
}

func TestRun_MixedBatch(t *testing.T) {
	f := setup(t,
		"https://link.coupang.com/a/one",
		"https://link.coupang.com/a/two",
		"https://link.coupang.com/a/three",
	)
	// First item goes through a real reservation, the second through the
	// legacy debit, the third fails in the composer.
	f.quota.reservations = []backend.Reservation{
		{ID: "rsv-1", Supported: true},
		{Supported: false},
		{Supported: false},
	}
	f.poster.composeErr["title https://link.coupang.com/a/three"] = errors.New("composer stuck")

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, res.Total)
	require.Equal(t, 2, res.Uploaded)
	require.Equal(t, 1, res.Failed)
	require.False(t, res.Cancelled)

	// One commit per uploaded item, exactly once each.
	require.Len(t, f.quota.commits, 2)
	require.Equal(t, 1, f.quota.useCalls)

	// The failed item held no real reservation, so nothing was released.
	require.Empty(t, f.quota.releases)

	// Both outcomes land in history.
	require.Len(t, f.hist.added, 3)
	var failures int
	for _, rec := range f.hist.added {
		if !rec.Success {
			failures++
		}
	}
	require.Equal(t, 1, failures)
}

func TestRun_FailedUploadReleasesReservation(t *testing.T) {
	f := setup(t, "https://link.coupang.com/a/one")
	f.quota.reservations = []backend.Reservation{{ID: "rsv-1", Supported: true}}
	f.poster.composeErr["title https://link.coupang.com/a/one"] = errors.New("publish miss")

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	// The hold went back; nothing was committed.
	require.Equal(t, []backend.Reservation{{ID: "rsv-1", Supported: true}}, f.quota.releases)
	require.Empty(t, f.quota.commits)
}

func TestRun_ParseFailureConsumesNoQuota(t *testing.T) {
	f := setup(t, "https://link.coupang.com/a/one")
	f.parser.failFor["https://link.coupang.com/a/one"] = true

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.ParseFailed)
	require.Zero(t, f.quota.reserveCalls)
}

func TestRun_NilPayloadIsParseFailure(t *testing.T) {
	f := setup(t, "https://link.coupang.com/a/one")
	f.gen.nilFor["title https://link.coupang.com/a/one"] = true

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.ParseFailed)
	require.Zero(t, f.quota.reserveCalls)
}

func TestRun_QuotaExhaustedStopsBatch(t *testing.T) {
	f := setup(t, "https://link.coupang.com/a/one", "https://link.coupang.com/a/two")
	f.quota.available = false

	res, err := f.orch.Run(context.Background())
	require.ErrorIs(t, err, common.ErrQuotaExhausted)
	require.Equal(t, 1, res.Total)
	require.Equal(t, 1, res.Skipped)
	require.Empty(t, f.poster.composed)

	// Skips never land in history; the link stays eligible.
	require.Empty(t, f.hist.added)
}

func TestRun_CommitFailureStopsBatch(t *testing.T) {
	f := setup(t, "https://link.coupang.com/a/one", "https://link.coupang.com/a/two")
	f.quota.commitErr = fmt.Errorf("%w: settle lost", common.ErrBillingDesync)

	res, err := f.orch.Run(context.Background())
	require.ErrorIs(t, err, common.ErrBillingDesync)
	// The post went out but the debit is unprovable: the item counts as
	// failed while history still records the live post.
	require.Equal(t, 1, res.Failed)
	require.Zero(t, res.Uploaded)
	require.Equal(t, 1, res.Total)
	require.Len(t, f.hist.added, 1)
	require.True(t, f.hist.added[0].Success)
}

func TestRun_BackendUnavailableStopsBatch(t *testing.T) {
	f := setup(t, "https://link.coupang.com/a/one", "https://link.coupang.com/a/two")
	f.quota.availableErr = fmt.Errorf("%w: connection refused", common.ErrBackendUnavailable)

	res, err := f.orch.Run(context.Background())
	require.ErrorIs(t, err, common.ErrBackendUnavailable)
	// A dead backend halts after the first item instead of burning the queue.
	require.Equal(t, 1, res.Total)
	require.Equal(t, 1, res.Skipped)
	require.Empty(t, f.poster.composed)
	require.Empty(t, f.hist.added)
}

func TestRun_HeartbeatFiresPerItem(t *testing.T) {
	f := setup(t, "https://link.coupang.com/a/one", "https://link.coupang.com/a/two")
	var beats []string
	f.orch.heartbeat = func(_ context.Context, task string) { beats = append(beats, task) }

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Uploaded)
	require.Equal(t, []string{
		"https://link.coupang.com/a/one",
		"https://link.coupang.com/a/two",
	}, beats)
}

func TestRun_ProductImageReachesGenerator(t *testing.T) {
	f := setup(t, "https://link.coupang.com/a/one")
	f.parser.imagePath = "/tmp/product-one.jpg"

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Uploaded)
	require.Len(t, f.gen.products, 1)
	require.Equal(t, "/tmp/product-one.jpg", f.gen.products[0].ImagePath)
}

func TestRun_CancelDuringIntervalPushesItemBack(t *testing.T) {
	f := setup(t, "https://link.coupang.com/a/one", "https://link.coupang.com/a/two")
	f.orch.interval = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := f.orch.Run(ctx)
	require.NoError(t, err)
	require.True(t, res.Cancelled)
	require.Equal(t, 1, res.Total)

	// Interruptible sleep: nowhere near the full minute.
	require.Less(t, time.Since(start), 5*time.Second)

	// The undone item is back in the queue for the next run.
	require.Equal(t, 1, f.queue.Size())
}

func TestRun_LoginFailureAbortsBeforeQueue(t *testing.T) {
	f := setup(t, "https://link.coupang.com/a/one")
	f.poster.loginErr = common.ErrLoginTimeout

	res, err := f.orch.Run(context.Background())
	require.ErrorIs(t, err, common.ErrLoginTimeout)
	require.Zero(t, res.Total)
	require.Equal(t, 1, f.queue.Size())
}

func TestRun_EmptyQueueFinishesClean(t *testing.T) {
	f := setup(t)
	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Total)
	require.False(t, res.Cancelled)
}
