package htmldoc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/autonext/pkg/page"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]page.MutationRecord
}

func (r *recorder) record(batch []page.MutationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *recorder) snapshot() [][]page.MutationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]page.MutationRecord(nil), r.batches...)
}

func TestAppendReportsAddedSubtree(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="main"></div></body></html>`)
	rec := &recorder{}
	stop, err := doc.ObserveMutations(context.Background(), page.ObserveOptions{}, rec.record)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, doc.Append("#main", `<div class="wrap"><i aria-label="任务点已完成"></i></div>text`))

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	r := batches[0][0]
	assert.Equal(t, page.MutationChildList, r.Type)
	assert.Equal(t, "div#main", page.Describe(r.Target))
	require.Len(t, r.Added, 1, "text nodes are not reported")
	assert.Equal(t, "div.wrap", page.Describe(r.Added[0]))
	assert.Nil(t, r.Added[0].Parent, "added nodes are detached copies")
	assert.Equal(t, "i", page.Describe(r.Added[0].FirstChild))

	assert.NotNil(t, doc.Element(`#main [aria-label="任务点已完成"]`))
}

func TestAttributeFilter(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="x"></div></body></html>`)
	rec := &recorder{}
	stop, err := doc.ObserveMutations(context.Background(), page.ObserveOptions{
		AttributeFilter: []string{"class", "aria-label"},
	}, rec.record)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, doc.SetAttribute("#x", "data-foo", "1"))
	require.NoError(t, doc.SetAttribute("#x", "class", "ans-job-icon"))

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, page.MutationAttributes, batches[0][0].Type)
	assert.Equal(t, "class", batches[0][0].AttributeName)
	assert.Equal(t, "div#x.ans-job-icon", page.Describe(batches[0][0].Target))
}

func TestBatchDeliversOnce(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="main"></div></body></html>`)
	rec := &recorder{}
	stop, err := doc.ObserveMutations(context.Background(), page.ObserveOptions{}, rec.record)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, doc.Batch(func(b *Batcher) error {
		for i := 0; i < 3; i++ {
			if err := b.Append("#main", `<span>x</span>`); err != nil {
				return err
			}
		}
		return b.Remove("#main span")
	}))

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 4)
}

func TestRootScopesRecords(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="in"></div></body></html>`)
	rec := &recorder{}
	stop, err := doc.ObserveMutations(context.Background(), page.ObserveOptions{Root: "#in"}, rec.record)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, doc.Append("body", `<p>outside</p>`))
	require.NoError(t, doc.Append("#in", `<p>inside</p>`))

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, "div#in", page.Describe(batches[0][0].Target))
}

func TestStopAndContextCancelUnsubscribe(t *testing.T) {
	doc := mustParse(t, `<html><body></body></html>`)
	rec := &recorder{}

	stop, err := doc.ObserveMutations(context.Background(), page.ObserveOptions{}, rec.record)
	require.NoError(t, err)
	stop()
	stop()
	require.NoError(t, doc.Append("body", `<p>x</p>`))
	assert.Empty(t, rec.snapshot())

	ctx, cancel := context.WithCancel(context.Background())
	_, err = doc.ObserveMutations(ctx, page.ObserveOptions{}, rec.record)
	require.NoError(t, err)
	cancel()
	assert.Eventually(t, func() bool {
		doc.subMu.Lock()
		defer doc.subMu.Unlock()
		return len(doc.subs) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestReplace(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="old"></div></body></html>`)
	require.NoError(t, doc.Bind("#old", page.HandlerPrimary, func() error { return nil }))
	rec := &recorder{}
	stop, err := doc.ObserveMutations(context.Background(), page.ObserveOptions{}, rec.record)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, doc.Replace(`<html><body><div id="new1"></div><div id="new2"></div></body></html>`))

	assert.Nil(t, doc.Element("#old"))
	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0][0].Added, 2)
}

func TestWatchFileReplaysEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte(`<html><body></body></html>`), 0o600))

	doc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Contains(t, doc.URL(), "file://")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 1)
	go func() { errs <- WatchFile(ctx, path, doc, nil) }()

	// The watcher registers asynchronously; keep writing until it sees one.
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`<html><body><div id="done"></div></body></html>`), 0o600)
		return doc.Element("#done") != nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-errs)
}
