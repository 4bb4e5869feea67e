package detect

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/entrhq/autonext/pkg/logging"
	"github.com/entrhq/autonext/pkg/page"
	"github.com/entrhq/autonext/pkg/page/htmldoc"
)

func mustParse(t *testing.T, body string) *htmldoc.Document {
	t.Helper()
	doc, err := htmldoc.ParseString("<html><body>" + body + "</body></html>")
	require.NoError(t, err)
	return doc
}

func node(t *testing.T, el page.Element) any {
	t.Helper()
	hel, ok := el.(*htmldoc.Element)
	require.True(t, ok, "unexpected element type %T", el)
	return hel.Node()
}

func TestEachStrategyDetectsAlone(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		strategy string
		want     string
	}{
		{
			name:     "marker attribute",
			body:     `<p>intro</p><div id="m" aria-label="任务点已完成"></div>`,
			strategy: "marker-attribute",
			want:     "#m",
		},
		{
			name:     "structural class",
			body:     `<span id="s" class="ans-job-icon ans-job-icon-clear"></span>`,
			strategy: "structural-class",
			want:     "#s",
		},
		{
			name:     "text scan",
			body:     `<div><span id="t">本节任务点已完成</span></div>`,
			strategy: "text-scan",
			want:     "#t",
		},
		{
			name:     "class fragment",
			body:     `<div id="f" class="x ans-job-finished-2"></div>`,
			strategy: "class-fragment",
			want:     "#f",
		},
		{
			name:     "visible icon resolves to container",
			body:     `<div id="ct" class="ans-attach-ct"><i class="icon-finish-ok"></i></div>`,
			strategy: "visible-icon",
			want:     "#ct",
		},
		{
			name:     "visible icon without container",
			body:     `<i id="icon" class="icon-finish"></i>`,
			strategy: "visible-icon",
			want:     "#icon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustParse(t, tt.body)
			m, ok := New(nil).Detect(context.Background(), doc)
			require.True(t, ok)
			assert.Equal(t, tt.strategy, m.Strategy)
			assert.Equal(t, doc.Element(tt.want).Node(), node(t, m.Element))
		})
	}
}

func TestNoCriteriaIsNotAMatch(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	doc := mustParse(t, `<div class="ans-job-icon"></div><script>var s = "任务点已完成";</script>`)

	_, ok := New(logging.New(core, "detect")).Detect(context.Background(), doc)

	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("task not complete yet").Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestPriorityBeatsDocumentOrder(t *testing.T) {
	// The class-fragment element comes first in the document, but the
	// marker strategy has priority.
	doc := mustParse(t, `
		<div id="frag" class="ans-job-finished"></div>
		<div id="marker" aria-label="任务点已完成"></div>`)

	m, trace, ok := New(nil).DetectTrace(context.Background(), doc)
	require.True(t, ok)
	assert.Equal(t, "marker-attribute", m.Strategy)
	assert.Equal(t, doc.Element("#marker").Node(), node(t, m.Element))

	won, ok := trace.Matched()
	require.True(t, ok)
	assert.Equal(t, "marker-attribute", won.Strategy)
	for _, e := range trace.Entries[1:] {
		assert.True(t, e.Skipped, e.Strategy)
	}
}

func TestFirstInDocumentOrderWithinStrategy(t *testing.T) {
	doc := mustParse(t, `
		<section><span id="a" class="ans-job-icon ans-job-icon-clear"></span></section>
		<span id="b" class="ans-job-icon ans-job-icon-clear"></span>`)

	m, trace, ok := New(nil).DetectTrace(context.Background(), doc)
	require.True(t, ok)
	assert.Equal(t, doc.Element("#a").Node(), node(t, m.Element))
	assert.Equal(t, 2, trace.Entries[1].Matches)
}

func TestHiddenIconsAreIgnored(t *testing.T) {
	doc := mustParse(t, `
		<div class="ans-attach-ct" id="c1"><i class="icon-finish" style="display: none"></i></div>
		<div class="ans-attach-ct" id="c2" style="visibility:hidden"><i class="icon-finish"></i></div>
		<div class="ans-attach-ct" id="c3"><i class="icon-finish"></i></div>`)

	m, ok := New(nil).Detect(context.Background(), doc)
	require.True(t, ok)
	assert.Equal(t, "visible-icon", m.Strategy)
	assert.Equal(t, doc.Element("#c3").Node(), node(t, m.Element))
}

type failingDoc struct {
	page.Document
	selector string
}

var errDriver = errors.New("driver gone")

func (f *failingDoc) QuerySelectorAll(ctx context.Context, selector string) ([]page.Element, error) {
	if selector == f.selector {
		return nil, errDriver
	}
	return f.Document.QuerySelectorAll(ctx, selector)
}

func TestFailingStrategyFallsThrough(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	doc := &failingDoc{
		Document: mustParse(t, `<div id="m" aria-label="任务点已完成" class="ans-job-finished"></div>`),
		selector: MarkerSelector,
	}

	m, trace, ok := New(logging.New(core, "detect")).DetectTrace(context.Background(), doc)
	require.True(t, ok)
	assert.Equal(t, "class-fragment", m.Strategy)
	assert.ErrorIs(t, trace.Entries[0].Err, errDriver)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, trace, ok := New(nil).DetectTrace(ctx, mustParse(t, `<div aria-label="任务点已完成"></div>`))
	assert.False(t, ok)
	for _, e := range trace.Entries {
		assert.ErrorIs(t, e.Err, context.Canceled)
	}
}

func TestSelectors(t *testing.T) {
	assert.Equal(t,
		[]string{MarkerSelector, StructuralSelector, ClassFragmentSelector},
		Selectors(DefaultStrategies()))
}

func TestTraceFormat(t *testing.T) {
	doc := mustParse(t, `<span class="ans-job-icon ans-job-icon-clear"></span>`)
	_, trace, ok := New(nil).DetectTrace(context.Background(), doc)
	require.True(t, ok)

	var buf bytes.Buffer
	require.NoError(t, trace.Format(&buf))

	g := goldie.New(t)
	g.Assert(t, "trace", buf.Bytes())
}
