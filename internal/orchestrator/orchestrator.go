// Package orchestrator runs the upload batch: it drains the work queue and,
// for every item, parses the product, generates the post, reserves quota,
// publishes through the browser session and settles the reservation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coupuas/threadauto/internal/backend"
	"github.com/coupuas/threadauto/internal/common"
	"github.com/coupuas/threadauto/internal/generate"
	"github.com/coupuas/threadauto/internal/history"
	"github.com/coupuas/threadauto/internal/logging"
	"github.com/coupuas/threadauto/internal/product"
	"github.com/coupuas/threadauto/internal/queue"
)

// Quota is the metered-usage surface of the backend client.
type Quota interface {
	CheckAvailable(ctx context.Context) (bool, error)
	Reserve(ctx context.Context) (backend.Reservation, error)
	Commit(ctx context.Context, r backend.Reservation) error
	Release(ctx context.Context, r backend.Reservation)
}

// Poster publishes one composed thread through a logged-in browser session.
type Poster interface {
	EnsureLogin(ctx context.Context) error
	ComposeThread(ctx context.Context, payload generate.PostPayload) error
}

// Generator builds the post content for a product; nil means the product
// could not be turned into a post.
type Generator interface {
	BuildPayload(ctx context.Context, p generate.Product) *generate.PostPayload
}

// Parser resolves a partner link to product metadata.
type Parser interface {
	Parse(ctx context.Context, url string) (*product.Info, error)
}

// ItemStatus classifies the outcome of one work item.
type ItemStatus string

const (
	StatusUploaded    ItemStatus = "uploaded"
	StatusFailed      ItemStatus = "failed"
	StatusParseFailed ItemStatus = "parse_failed"
	StatusSkipped     ItemStatus = "skipped"
)

// ItemDetail is the per-item record inside a BatchResult. Published tracks
// whether the post actually went out, independent of Status: a commit failure
// leaves a live post behind a failed item.
type ItemDetail struct {
	URL       string
	Title     string
	Status    ItemStatus
	Published bool
	Error     string
}

// BatchResult summarizes a batch run. Counters never go backwards; a
// cancelled or aborted batch reports whatever completed before the stop.
type BatchResult struct {
	Total       int
	Uploaded    int
	Failed      int
	ParseFailed int
	Skipped     int
	Cancelled   bool
	Details     []ItemDetail
}

// Events receives progress callbacks. Any field may be nil.
type Events struct {
	Progress func(phase, detail string)
	Item     func(detail ItemDetail)
	Done     func(result BatchResult)
}

func (e Events) progress(phase, detail string) {
	if e.Progress != nil {
		e.Progress(phase, detail)
	}
}

func (e Events) item(d ItemDetail) {
	if e.Item != nil {
		e.Item(d)
	}
}

// Orchestrator owns one batch run.
type Orchestrator struct {
	queue     *queue.Queue
	quota     Quota
	poster    Poster
	generator Generator
	parser    Parser
	history   history.Repository
	log       logging.Logger
	events    Events
	heartbeat func(ctx context.Context, task string)

	interval time.Duration
	popWait  time.Duration
}

type Deps struct {
	Queue     *queue.Queue
	Quota     Quota
	Poster    Poster
	Generator Generator
	Parser    Parser
	History   history.Repository
	Logger    logging.Logger
	Events    Events

	// Heartbeat, when set, is called best-effort at the start of every item
	// with the link being worked on, so the backend sees the session alive
	// during a long batch.
	Heartbeat func(ctx context.Context, task string)

	// Interval is the pause between consecutive uploads.
	Interval time.Duration
	// PopWait bounds how long a drained queue is waited on before the
	// batch is considered finished.
	PopWait time.Duration
}

func New(d Deps) *Orchestrator {
	if d.PopWait <= 0 {
		d.PopWait = 2 * time.Second
	}
	return &Orchestrator{
		queue:     d.Queue,
		quota:     d.Quota,
		poster:    d.Poster,
		generator: d.Generator,
		parser:    d.Parser,
		history:   d.History,
		log:       d.Logger,
		events:    d.Events,
		heartbeat: d.Heartbeat,
		interval:  d.Interval,
		popWait:   d.PopWait,
	}
}

// batchFatal reports errors that must stop the whole batch rather than fail
// a single item.
func batchFatal(err error) bool {
	return errors.Is(err, common.ErrBillingDesync) ||
		errors.Is(err, common.ErrReservationIntegrity) ||
		errors.Is(err, common.ErrQuotaExhausted) ||
		errors.Is(err, common.ErrBackendUnavailable) ||
		errors.Is(err, common.ErrorUnauthorized)
}

// Run drains the queue until it stays empty, quota runs out, a billing
// error occurs, or ctx is cancelled. The returned BatchResult is complete
// in every case; err is non-nil only for abnormal stops.
func (o *Orchestrator) Run(ctx context.Context) (res BatchResult, err error) {
	defer func() {
		// The automation driver can panic on a torn-down browser; surface
		// that as a fatal batch error instead of killing the worker.
		if r := recover(); r != nil {
			err = fmt.Errorf("batch aborted: %v", r)
		}
		if o.events.Done != nil {
			o.events.Done(res)
		}
	}()

	o.events.progress("login", "verifying session")
	if err := o.poster.EnsureLogin(ctx); err != nil {
		res.Cancelled = errors.Is(err, context.Canceled)
		return res, fmt.Errorf("establishing session: %w", err)
	}

	first := true
	for {
		if err := ctx.Err(); err != nil {
			res.Cancelled = true
			return res, nil
		}

		item, err := o.queue.Pop(ctx, o.popWait)
		if errors.Is(err, queue.ErrEmpty) {
			return res, nil
		}
		if err != nil {
			res.Cancelled = true
			return res, nil
		}

		if !first {
			if !o.sleepBetween(ctx) {
				// The popped item goes back so a later run picks it up.
				o.queue.Requeue(item)
				res.Cancelled = true
				return res, nil
			}
		}
		first = false

		res.Total++
		detail, err := o.processItem(ctx, item)
		if detail.Status != StatusSkipped {
			o.record(ctx, detail)
		}
		res.Details = append(res.Details, detail)
		o.events.item(detail)

		switch detail.Status {
		case StatusUploaded:
			res.Uploaded++
		case StatusFailed:
			res.Failed++
		case StatusParseFailed:
			res.ParseFailed++
		case StatusSkipped:
			res.Skipped++
		}

		if err != nil {
			if errors.Is(err, context.Canceled) {
				res.Cancelled = true
				return res, nil
			}
			if batchFatal(err) {
				o.log.Error(ctx, "stopping batch", "error", err)
				return res, err
			}
		}
	}
}

// processItem runs one work item end to end. The returned error is only
// consulted for batch-fatal classification; per-item failures are already
// folded into the detail.
func (o *Orchestrator) processItem(ctx context.Context, item queue.WorkItem) (ItemDetail, error) {
	detail := ItemDetail{URL: item.URL}
	o.events.progress("item", item.URL)
	if o.heartbeat != nil {
		o.heartbeat(ctx, item.URL)
	}

	ok, err := o.quota.CheckAvailable(ctx)
	if err != nil {
		detail.Status = StatusSkipped
		detail.Error = err.Error()
		return detail, err
	}
	if !ok {
		detail.Status = StatusSkipped
		detail.Error = "quota exhausted"
		return detail, common.ErrQuotaExhausted
	}

	info, err := o.parser.Parse(ctx, item.URL)
	if err != nil || info == nil {
		detail.Status = StatusParseFailed
		if err != nil {
			detail.Error = err.Error()
		} else {
			detail.Error = "no product data"
		}
		return detail, nil
	}
	detail.Title = info.Title

	keywords := info.Keywords
	if item.Keyword != "" {
		keywords = item.Keyword
	}
	payload := o.generator.BuildPayload(ctx, generate.Product{
		Title:     info.Title,
		Keywords:  keywords,
		URL:       item.URL,
		ImagePath: info.ImagePath,
	})
	if payload == nil {
		detail.Status = StatusParseFailed
		detail.Error = "payload generation failed"
		return detail, nil
	}

	reservation, err := o.quota.Reserve(ctx)
	if err != nil {
		detail.Status = StatusSkipped
		detail.Error = err.Error()
		return detail, err
	}

	if err := ctx.Err(); err != nil {
		o.quota.Release(ctx, reservation)
		detail.Status = StatusSkipped
		detail.Error = err.Error()
		return detail, err
	}

	if err := o.poster.ComposeThread(ctx, *payload); err != nil {
		o.quota.Release(ctx, reservation)
		detail.Status = StatusFailed
		detail.Error = err.Error()
		return detail, err
	}

	detail.Published = true

	if err := o.quota.Commit(ctx, reservation); err != nil {
		// The post is live but the debit is unprovable; the item counts as
		// failed and the batch stops before the account drifts further.
		detail.Status = StatusFailed
		detail.Error = err.Error()
		return detail, err
	}

	detail.Status = StatusUploaded
	return detail, nil
}

// record writes the item outcome to upload history. Failures are recorded
// too; a link that burned an attempt should not be resubmitted blindly.
// History success follows Published, not Status, so a post stranded by a
// commit failure is still remembered as live.
func (o *Orchestrator) record(ctx context.Context, d ItemDetail) {
	rec := history.Record{
		URL:        queue.NormalizeURL(d.URL),
		Title:      d.Title,
		Success:    d.Published,
		UploadedAt: time.Now(),
	}
	if err := o.history.Add(ctx, rec); err != nil {
		o.log.Warn(ctx, "recording history failed", "url", d.URL, "error", err)
	}
}

// sleepBetween waits the configured interval in one-second ticks so a
// cancellation never waits more than a second. Returns false on cancel.
func (o *Orchestrator) sleepBetween(ctx context.Context) bool {
	if o.interval <= 0 {
		return true
	}
	o.events.progress("wait", o.interval.String())

	deadline := time.Now().Add(o.interval)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if !time.Now().Before(deadline) {
				return true
			}
		}
	}
}
