package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/nexus/internal/ingest"
	"github.com/JakeFAU/nexus/internal/storage/memory"
)

type fakeFetcher struct {
	mu      sync.Mutex
	texts   map[string]string
	errs    map[string]error
	fetched []string
	delay   time.Duration
	onFetch func()
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{texts: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.onFetch != nil {
		f.onFetch()
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	text, err := f.texts[url], f.errs[url]
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

func (f *fakeFetcher) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.fetched))
	copy(out, f.fetched)
	return out
}

type fakeDedup struct {
	mu     sync.Mutex
	hashes map[string]string
	closes atomic.Int32
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{hashes: map[string]string{}}
}

func (d *fakeDedup) GetStoredHash(_ context.Context, url string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hashes[url]
	return h, ok, nil
}

func (d *fakeDedup) HasChanged(ctx context.Context, url, hash string) (bool, error) {
	stored, ok, _ := d.GetStoredHash(ctx, url)
	return !ok || stored != hash, nil
}

func (d *fakeDedup) MarkProcessed(_ context.Context, url, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hashes[url] = hash
	return nil
}

func (d *fakeDedup) Close() error {
	d.closes.Add(1)
	return errors.New("already gone")
}

type fakeSummarizer struct {
	summary ingest.Summary
	err     error
	closes  atomic.Int32
	calls   atomic.Int32
}

func (s *fakeSummarizer) Summarize(context.Context, ingest.SummaryRequest) (ingest.Summary, error) {
	s.calls.Add(1)
	return s.summary, s.err
}

func (s *fakeSummarizer) Close() error {
	s.closes.Add(1)
	return nil
}

// keepOpen lets one memory writer outlive several single-use orchestrators.
type keepOpen struct {
	*memory.Writer
	closes atomic.Int32
}

func (k *keepOpen) Close() error {
	k.closes.Add(1)
	return nil
}

type failingWriter struct {
	*memory.Writer
}

func (failingWriter) UpsertArticle(context.Context, ingest.ArticleRecord) (string, error) {
	return "", errors.New("disk full")
}

// trackingWriter calls onWrite after each upsert returns.
type trackingWriter struct {
	*memory.Writer
	onWrite func()
}

func (w *trackingWriter) UpsertArticle(ctx context.Context, rec ingest.ArticleRecord) (string, error) {
	defer w.onWrite()
	return w.Writer.UpsertArticle(ctx, rec)
}

type fakeResolver struct {
	item ingest.DiscoveredItem
	err  error
}

func (r fakeResolver) Resolve(context.Context, string) (ingest.DiscoveredItem, error) {
	return r.item, r.err
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticHasher struct{}

func (staticHasher) Hash(data []byte) (string, error) {
	return "h:" + string(data), nil
}

func logPairs(logs []ingest.LogEntry, url string) []string {
	var out []string
	for _, l := range logs {
		if l.ItemURL == url {
			out = append(out, string(l.Action)+"/"+string(l.Result))
		}
	}
	return out
}
