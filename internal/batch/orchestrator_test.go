package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/imagekit/internal/domain"
)

type fakeTransformer struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	overlap  atomic.Bool
	onCall   func()
}

func (f *fakeTransformer) Transform(_ context.Context, src domain.SourceImage, _ domain.TransformOptions) (domain.TransformResult, error) {
	f.calls.Add(1)
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)
	if f.onCall != nil {
		f.onCall()
	}
	time.Sleep(time.Millisecond)

	if bytes.HasPrefix(src.Data, []byte("corrupt")) {
		return domain.TransformResult{}, fmt.Errorf("%w: bad header", domain.ErrDecode)
	}
	out := bytes.Repeat([]byte{1}, len(src.Data)/2)
	return domain.TransformResult{Data: out, Size: len(out), CompressionRatio: 50}, nil
}

func source(name string, data string) domain.SourceImage {
	return domain.SourceImage{Name: name, MimeType: domain.MimePNG, Data: []byte(data)}
}

func compressOptions() domain.TransformOptions {
	return domain.TransformOptions{Kind: domain.OpCompress, Compress: &domain.CompressOptions{Quality: 80}}
}

func TestRunAllIsolatesItemFailures(t *testing.T) {
	o := New(&fakeTransformer{}, Config{Limits: domain.DefaultLimits()})
	ids, rejections := o.AddItems(
		source("one.png", "good-image-one"),
		source("two.png", "corrupt-bytes"),
		source("three.png", "good-image-three"),
	)
	if len(ids) != 3 || len(rejections) != 0 {
		t.Fatalf("expected 3 accepted items, got ids=%d rejections=%v", len(ids), rejections)
	}

	summary := o.RunAll(context.Background(), compressOptions())
	if summary.Completed != 2 || summary.Failed != 1 || summary.Skipped != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	items := o.Items()
	if items[0].Status != domain.StatusCompleted || items[2].Status != domain.StatusCompleted {
		t.Fatalf("expected items 1 and 3 completed, got %s and %s", items[0].Status, items[2].Status)
	}
	if items[1].Status != domain.StatusError || items[1].Error == "" {
		t.Fatalf("expected item 2 in error with a message, got %s %q", items[1].Status, items[1].Error)
	}
	if items[1].Result != nil {
		t.Fatal("failed item must not carry a result")
	}
	if items[0].Result.Size != len("good-image-one")/2 {
		t.Fatalf("unexpected result size %d", items[0].Result.Size)
	}
}

func TestAddItemsPreservesOrderAndRejectsIndividually(t *testing.T) {
	o := New(&fakeTransformer{}, Config{Limits: domain.Limits{MaxFileBytes: 10, MaxBatchItems: 3}})
	ids, rejections := o.AddItems(
		source("a.png", "aaaa"),
		domain.SourceImage{Name: "b.gif", MimeType: "image/gif", Data: []byte("b")},
		source("c.png", "this one is far too large"),
		source("d.png", "dddd"),
	)
	if len(ids) != 2 {
		t.Fatalf("expected 2 accepted, got %d", len(ids))
	}
	if len(rejections) != 2 {
		t.Fatalf("expected 2 rejections, got %d", len(rejections))
	}
	if rejections[0].Index != 1 || !errors.Is(rejections[0].Err, domain.ErrInvalidFormat) {
		t.Fatalf("unexpected first rejection %+v", rejections[0])
	}
	if rejections[1].Index != 2 || !errors.Is(rejections[1].Err, domain.ErrFileTooLarge) {
		t.Fatalf("unexpected second rejection %+v", rejections[1])
	}

	items := o.Items()
	if items[0].Source.Name != "a.png" || items[1].Source.Name != "d.png" {
		t.Fatalf("expected insertion order a, d; got %s, %s", items[0].Source.Name, items[1].Source.Name)
	}
	for _, item := range items {
		if item.Status != domain.StatusPending {
			t.Fatalf("expected pending, got %s", item.Status)
		}
	}
	if ids[0] == ids[1] {
		t.Fatal("expected unique ids")
	}

	_, rejections = o.AddItems(source("e.png", "e"), source("f.png", "f"))
	if len(rejections) != 1 || !errors.Is(rejections[0].Err, ErrBatchFull) {
		t.Fatalf("expected batch limit rejection, got %+v", rejections)
	}
}

func TestRunAllIsSequential(t *testing.T) {
	fake := &fakeTransformer{}
	o := New(fake, Config{})
	for i := 0; i < 5; i++ {
		o.AddItems(source(fmt.Sprintf("%d.png", i), "image-data"))
	}

	done := make(chan Summary, 2)
	go func() { done <- o.RunAll(context.Background(), compressOptions()) }()
	go func() { done <- o.RunAll(context.Background(), compressOptions()) }()
	<-done
	<-done

	if fake.overlap.Load() {
		t.Fatal("expected transforms never to overlap")
	}
	if got := fake.calls.Load(); got != 10 {
		t.Fatalf("expected 10 transform calls, got %d", got)
	}
}

func TestRunAllSkipsUnstartedItemsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeTransformer{onCall: cancel}
	var progress []int
	o := New(fake, Config{OnProgress: func(done, total int, _ domain.BatchItem) {
		progress = append(progress, done)
	}})
	o.AddItems(source("a.png", "aaaa"), source("b.png", "bbbb"), source("c.png", "cccc"))

	summary := o.RunAll(ctx, compressOptions())
	if summary.Completed != 1 || summary.Skipped != 2 {
		t.Fatalf("expected the in-flight item to finish and the rest skipped, got %+v", summary)
	}
	items := o.Items()
	if items[0].Status != domain.StatusCompleted {
		t.Fatalf("expected first item completed, got %s", items[0].Status)
	}
	if items[1].Status != domain.StatusPending || items[2].Status != domain.StatusPending {
		t.Fatalf("expected skipped items to stay pending, got %s and %s", items[1].Status, items[2].Status)
	}
	if len(progress) != 1 || progress[0] != 1 {
		t.Fatalf("unexpected progress callbacks %v", progress)
	}
}

func TestRunReprocessesSingleItem(t *testing.T) {
	fake := &fakeTransformer{}
	o := New(fake, Config{})
	ids, _ := o.AddItems(source("a.png", "aaaa"), source("b.png", "bbbb"))

	o.RunAll(context.Background(), compressOptions())
	first, _ := o.Get(ids[0])
	oldData := first.Result.Data

	item, err := o.Run(context.Background(), ids[0], compressOptions())
	if err != nil {
		t.Fatalf("run item: %v", err)
	}
	if item.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", item.Status)
	}
	if oldData[0] != 0 {
		t.Fatal("expected previous output to be released on reprocess")
	}
	if fake.calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", fake.calls.Load())
	}

	if _, err := o.Run(context.Background(), "missing", compressOptions()); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestRemoveAndClearKeepSnapshotBytesIntact(t *testing.T) {
	o := New(&fakeTransformer{}, Config{})
	ids, _ := o.AddItems(source("a.png", "aaaa"), source("b.png", "bbbb"), source("c.png", "cccc"))
	o.RunAll(context.Background(), compressOptions())

	removed, _ := o.Get(ids[1])
	removedData := removed.Result.Data
	if !o.RemoveItem(ids[1]) {
		t.Fatal("expected item to be removed")
	}
	if !bytes.Equal(removedData, []byte{1, 1}) {
		t.Fatalf("expected removed snapshot bytes to stay intact, got %v", removedData)
	}
	if o.RemoveItem(ids[1]) {
		t.Fatal("expected second removal to report missing")
	}
	if _, ok := o.Get(ids[1]); ok {
		t.Fatal("expected removed item to be gone")
	}
	if got := o.Items(); len(got) != 2 || got[0].ID != ids[0] || got[1].ID != ids[2] {
		t.Fatalf("unexpected remaining items %+v", got)
	}

	kept, _ := o.Get(ids[2])
	keptData := kept.Result.Data
	o.ClearAll()
	if o.Len() != 0 {
		t.Fatalf("expected empty batch, got %d", o.Len())
	}
	if !bytes.Equal(keptData, []byte{1, 1}) {
		t.Fatalf("expected cleared snapshot bytes to stay intact, got %v", keptData)
	}
}

func TestReprocessKeepsEarlierSnapshotBytes(t *testing.T) {
	o := New(&fakeTransformer{}, Config{})
	ids, _ := o.AddItems(source("a.png", "aaaaaa"))
	o.RunAll(context.Background(), compressOptions())

	before, _ := o.Get(ids[0])
	held := before.Result.Data
	if _, err := o.Run(context.Background(), ids[0], compressOptions()); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if !bytes.Equal(held, []byte{1, 1, 1}) {
		t.Fatalf("expected earlier snapshot bytes to survive reprocessing, got %v", held)
	}
}
