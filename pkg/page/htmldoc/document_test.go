package htmldoc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/autonext/pkg/page"
)

const fixture = `<html><body>
	<div id="a" class="job">first</div>
	<div id="b" class="job" style="display: none">second</div>
	<section style="visibility:hidden"><span id="c">任务点已完成</span></section>
	<button id="next" disabled>next</button>
	<script>var s = "任务点已完成";</script>
</body></html>`

func mustParse(t *testing.T, markup string) *Document {
	t.Helper()
	doc, err := ParseString(markup)
	require.NoError(t, err)
	return doc
}

func TestQuerySelectorAllDocumentOrder(t *testing.T) {
	doc := mustParse(t, fixture)
	ctx := context.Background()

	els, err := doc.QuerySelectorAll(ctx, ".job")
	require.NoError(t, err)
	require.Len(t, els, 2)
	assert.Equal(t, "div#a.job", els[0].String())
	assert.Equal(t, "div#b.job", els[1].String())

	first, err := doc.QuerySelector(ctx, ".job")
	require.NoError(t, err)
	assert.Equal(t, "div#a.job", first.String())

	none, err := doc.QuerySelector(ctx, ".missing")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = doc.QuerySelectorAll(ctx, "div[")
	assert.Error(t, err)
}

func TestFindByTextSkipsScripts(t *testing.T) {
	doc := mustParse(t, fixture)

	els, err := doc.FindByText(context.Background(), "任务点已完成")
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, "span#c", els[0].String())
}

func TestComputedStyle(t *testing.T) {
	doc := mustParse(t, fixture)

	tests := []struct {
		selector string
		property string
		want     string
	}{
		{"#a", "display", "block"},
		{"#b", "display", "none"},
		{"#c", "display", "inline"},
		{"#c", "visibility", "hidden"},
		{"#a", "visibility", "visible"},
		{"#next", "display", "inline-block"},
	}
	for _, tt := range tests {
		t.Run(tt.selector+"/"+tt.property, func(t *testing.T) {
			got, err := doc.Element(tt.selector).ComputedStyle(tt.property)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHiddenAttributeHidesElement(t *testing.T) {
	doc := mustParse(t, `<body><a id="x" hidden>x</a></body>`)
	got, err := doc.Element("#x").ComputedStyle("display")
	require.NoError(t, err)
	assert.Equal(t, "none", got)
}

func TestIsDisabledAndAttribute(t *testing.T) {
	doc := mustParse(t, fixture)

	disabled, err := doc.Element("#next").IsDisabled()
	require.NoError(t, err)
	assert.True(t, disabled)

	disabled, err = doc.Element("#a").IsDisabled()
	require.NoError(t, err)
	assert.False(t, disabled)

	v, ok, err := doc.Element("#a").Attribute("class")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "job", v)

	_, ok, err = doc.Element("#a").Attribute("aria-label")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClosest(t *testing.T) {
	doc := mustParse(t, fixture)

	got, err := doc.Element("#c").Closest("section")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "section", got.String())

	self, err := doc.Element("#c").Closest("span")
	require.NoError(t, err)
	assert.Equal(t, "span#c", self.String())

	none, err := doc.Element("#c").Closest("article")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestHandlersAndEvents(t *testing.T) {
	doc := mustParse(t, `<body><div id="wrap"><div id="next">next</div></div></body>`)
	el := doc.Element("#next")

	has, err := el.HasHandler(page.HandlerPrimary)
	require.NoError(t, err)
	assert.False(t, has)
	assert.ErrorIs(t, el.InvokeHandler(page.HandlerPrimary), ErrNoHandler)

	var primary, legacy, bubbled, keys int
	require.NoError(t, doc.Bind("#next", page.HandlerPrimary, func() error { primary++; return nil }))
	require.NoError(t, doc.Bind("#next", page.HandlerLegacy, func() error { legacy++; return errors.New("boom") }))
	require.NoError(t, doc.Listen("#wrap", "click", func() error { bubbled++; return nil }))
	require.NoError(t, doc.Listen("#next", "keydown", func() error { keys++; return nil }))

	require.NoError(t, el.InvokeHandler(page.HandlerPrimary))
	assert.EqualError(t, el.InvokeHandler(page.HandlerLegacy), "boom")

	require.NoError(t, el.DispatchEvent(page.ClickEvent()))
	require.NoError(t, el.DispatchEvent(page.KeyEvent("keydown", "Enter")))

	assert.Equal(t, 2, primary, "direct call plus click reaching onclick")
	assert.Equal(t, 1, legacy)
	assert.Equal(t, 1, bubbled)
	assert.Equal(t, 1, keys)
	assert.Equal(t, []page.Event{page.ClickEvent(), page.KeyEvent("keydown", "Enter")}, doc.Events("#next"))
}

func TestNonBubblingEventStaysOnTarget(t *testing.T) {
	doc := mustParse(t, `<body><div id="wrap"><div id="next">next</div></div></body>`)
	var bubbled int
	require.NoError(t, doc.Listen("#wrap", "click", func() error { bubbled++; return nil }))

	ev := page.ClickEvent()
	ev.Bubbles = false
	require.NoError(t, doc.Element("#next").DispatchEvent(ev))
	assert.Zero(t, bubbled)
}

func TestHandlerMayEditDocument(t *testing.T) {
	doc := mustParse(t, `<body><div id="next">next</div><div id="out"></div></body>`)
	require.NoError(t, doc.Bind("#next", page.HandlerPrimary, func() error {
		return doc.Append("#out", `<p class="done">ok</p>`)
	}))
	require.NoError(t, doc.Element("#next").InvokeHandler(page.HandlerPrimary))
	assert.NotNil(t, doc.Element("#out p.done"))
}

func TestNavigate(t *testing.T) {
	doc := mustParse(t, fixture)
	assert.Equal(t, "about:blank", doc.URL())

	doc.Navigate("https://example.com/next")
	assert.Equal(t, "https://example.com/next", doc.URL())
	assert.Equal(t, "https://example.com/next", <-doc.Navigations())

	doc.CloseNavigations()
	doc.CloseNavigations()
	_, ok := <-doc.Navigations()
	assert.False(t, ok)
}
