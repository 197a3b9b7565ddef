// Package batch runs transforms over an insertion-ordered collection of images,
// one item at a time, and tracks each item's lifecycle independently.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	ErrItemNotFound = errors.New("batch item not found")
	ErrBatchFull    = errors.New("batch is full")
)

type Transformer interface {
	Transform(ctx context.Context, src domain.SourceImage, opts domain.TransformOptions) (domain.TransformResult, error)
}

// Rejection reports a source refused at ingestion. Index is its position in the AddItems call.
type Rejection struct {
	Index int
	Name  string
	Err   error
}

type Summary struct {
	Total     int
	Completed int
	Failed    int
	Skipped   int
	BytesIn   int64
	BytesOut  int64
}

type Config struct {
	Limits     domain.Limits
	Logger     *log.Logger
	OnProgress func(done, total int, item domain.BatchItem)
}

// Orchestrator owns its items. The transform surface is not safe for overlapping
// draws, so runs are gated by a weight-1 semaphore.
type Orchestrator struct {
	transformer Transformer
	limits      domain.Limits
	logger      *log.Logger
	onProgress  func(done, total int, item domain.BatchItem)
	gate        *semaphore.Weighted
	now         func() time.Time

	mu    sync.Mutex
	items map[string]*domain.BatchItem
	order []string
}

func New(transformer Transformer, cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{
		transformer: transformer,
		limits:      cfg.Limits,
		logger:      logger,
		onProgress:  cfg.OnProgress,
		gate:        semaphore.NewWeighted(1),
		now:         time.Now,
		items:       make(map[string]*domain.BatchItem),
	}
}

// AddItems validates and appends sources as pending items. Invalid sources are
// reported individually and do not affect their siblings.
func (o *Orchestrator) AddItems(sources ...domain.SourceImage) ([]string, []Rejection) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var (
		ids        []string
		rejections []Rejection
	)
	for i, src := range sources {
		if o.limits.MaxBatchItems > 0 && len(o.order) >= o.limits.MaxBatchItems {
			rejections = append(rejections, Rejection{Index: i, Name: src.Name, Err: fmt.Errorf("%w: limit is %d items", ErrBatchFull, o.limits.MaxBatchItems)})
			continue
		}
		if err := domain.ValidateSource(src, o.limits); err != nil {
			rejections = append(rejections, Rejection{Index: i, Name: src.Name, Err: err})
			continue
		}

		now := o.now().UTC()
		id := uuid.NewString()
		o.items[id] = &domain.BatchItem{
			ID:        id,
			Source:    src,
			Status:    domain.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		o.order = append(o.order, id)
		ids = append(ids, id)
	}
	return ids, rejections
}

// RunAll processes a snapshot of the current items in insertion order. Completed and
// failed items are reprocessed. Once ctx is done, items not yet started are skipped
// and stay in their current state; an item already in flight runs to completion.
func (o *Orchestrator) RunAll(ctx context.Context, opts domain.TransformOptions) Summary {
	ids := o.snapshotIDs()
	summary := Summary{Total: len(ids)}

	if err := o.gate.Acquire(ctx, 1); err != nil {
		summary.Skipped = len(ids)
		return summary
	}
	defer o.gate.Release(1)

	for i, id := range ids {
		if ctx.Err() != nil {
			summary.Skipped += len(ids) - i
			o.logger.Printf("batch run stopped skipped=%d err=%v", len(ids)-i, ctx.Err())
			break
		}

		item, ok := o.process(ctx, id, opts)
		if !ok {
			summary.Skipped++
			continue
		}

		summary.BytesIn += int64(item.Source.Size())
		switch item.Status {
		case domain.StatusCompleted:
			summary.Completed++
			summary.BytesOut += int64(item.Result.Size)
		case domain.StatusError:
			summary.Failed++
		}
		if o.onProgress != nil {
			o.onProgress(i+1, len(ids), item)
		}
	}
	return summary
}

// Run reprocesses a single item.
func (o *Orchestrator) Run(ctx context.Context, id string, opts domain.TransformOptions) (domain.BatchItem, error) {
	if err := o.gate.Acquire(ctx, 1); err != nil {
		return domain.BatchItem{}, err
	}
	defer o.gate.Release(1)

	item, ok := o.process(ctx, id, opts)
	if !ok {
		return domain.BatchItem{}, ErrItemNotFound
	}
	return item, nil
}

func (o *Orchestrator) process(ctx context.Context, id string, opts domain.TransformOptions) (domain.BatchItem, bool) {
	src, ok := o.begin(id)
	if !ok {
		return domain.BatchItem{}, false
	}

	started := o.now()
	result, err := o.transformer.Transform(context.WithoutCancel(ctx), src, opts)
	if err != nil {
		o.logger.Printf("batch item failed id=%s name=%q err=%v", id, src.Name, err)
	} else {
		o.logger.Printf("batch item done id=%s name=%q bytes=%d ratio=%.1f took=%s",
			id, src.Name, result.Size, result.CompressionRatio, o.now().Sub(started).Round(time.Millisecond))
	}
	return o.complete(id, result, err)
}

// begin moves an item to processing and drops any previous output.
func (o *Orchestrator) begin(id string) (domain.SourceImage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	item, ok := o.items[id]
	if !ok {
		return domain.SourceImage{}, false
	}
	if item.Result != nil {
		item.Result.Release()
		item.Result = nil
	}
	item.Status = domain.StatusProcessing
	item.Error = ""
	item.UpdatedAt = o.now().UTC()
	return item.Source, true
}

func (o *Orchestrator) complete(id string, result domain.TransformResult, err error) (domain.BatchItem, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	item, ok := o.items[id]
	if !ok {
		// Removed while in flight.
		result.Release()
		return domain.BatchItem{}, false
	}
	if err != nil {
		item.Status = domain.StatusError
		item.Error = err.Error()
	} else {
		item.Status = domain.StatusCompleted
		item.Result = &result
	}
	item.UpdatedAt = o.now().UTC()
	return snapshot(item), true
}

// RemoveItem deletes an item and drops its output buffer.
func (o *Orchestrator) RemoveItem(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	item, ok := o.items[id]
	if !ok {
		return false
	}
	item.Result.Release()
	delete(o.items, id)
	for i, existing := range o.order {
		if existing == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return true
}

// ClearAll removes every item and drops all output buffers.
func (o *Orchestrator) ClearAll() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, item := range o.items {
		item.Result.Release()
	}
	o.items = make(map[string]*domain.BatchItem)
	o.order = nil
}

// Items returns copies in insertion order. Output bytes are shared read-only with the
// orchestrator; RemoveItem, ClearAll and reprocessing drop the orchestrator's reference
// but never rewrite bytes a snapshot already holds.
func (o *Orchestrator) Items() []domain.BatchItem {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.BatchItem, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, snapshot(o.items[id]))
	}
	return out
}

func (o *Orchestrator) Get(id string) (domain.BatchItem, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	item, ok := o.items[id]
	if !ok {
		return domain.BatchItem{}, false
	}
	return snapshot(item), true
}

func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.order)
}

func (o *Orchestrator) snapshotIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

func snapshot(item *domain.BatchItem) domain.BatchItem {
	out := *item
	if item.Result != nil {
		result := *item.Result
		out.Result = &result
	}
	return out
}
