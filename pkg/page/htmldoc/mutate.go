package htmldoc

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/entrhq/autonext/pkg/page"
)

// ObserveMutations implements page.MutationSource. Batches are delivered
// synchronously on the goroutine that edited the document.
func (d *Document) ObserveMutations(ctx context.Context, opts page.ObserveOptions, fn func([]page.MutationRecord)) (func(), error) {
	if opts.Root == "" {
		opts.Root = "body"
	}
	d.mu.Lock()
	_, err := d.compile(opts.Root)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	d.subMu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = subscriber{opts: opts, fn: fn}
	d.subMu.Unlock()

	done := make(chan struct{})
	var once bool
	stop := func() {
		d.subMu.Lock()
		defer d.subMu.Unlock()
		if once {
			return
		}
		once = true
		delete(d.subs, id)
		close(done)
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop, nil
}

// Batch applies several edits and reports them to subscribers as one batch,
// the way a single task's DOM changes reach a MutationObserver.
func (d *Document) Batch(edits func(b *Batcher) error) error {
	b := &Batcher{doc: d}
	if err := edits(b); err != nil {
		return err
	}
	d.flush(b)
	return nil
}

// Append parses markup and appends the nodes to the first element matching
// parentSelector.
func (d *Document) Append(parentSelector, markup string) error {
	return d.Batch(func(b *Batcher) error { return b.Append(parentSelector, markup) })
}

// SetAttribute sets name=value on the first element matching selector.
func (d *Document) SetAttribute(selector, name, value string) error {
	return d.Batch(func(b *Batcher) error { return b.SetAttribute(selector, name, value) })
}

// Remove detaches the first element matching selector.
func (d *Document) Remove(selector string) error {
	return d.Batch(func(b *Batcher) error { return b.Remove(selector) })
}

// Replace swaps the whole tree for a newly parsed one, dropping bindings,
// and reports the new body children as added nodes.
func (d *Document) Replace(markup string) error {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}

	b := &Batcher{doc: d}
	d.mu.Lock()
	d.root = root
	d.bindings = make(map[*html.Node]*binding)
	if body, _ := d.first("body"); body != nil {
		var added []*html.Node
		for c := body.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				added = append(added, cloneNode(c, true))
			}
		}
		b.record(body, page.MutationRecord{
			Type:   page.MutationChildList,
			Target: cloneNode(body, false),
			Added:  added,
		})
	}
	d.mu.Unlock()

	d.flush(b)
	return nil
}

func (d *Document) flush(b *Batcher) {
	if len(b.records) == 0 {
		return
	}
	d.subMu.Lock()
	subs := make([]subscriber, 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.subMu.Unlock()

	for _, s := range subs {
		var recs []page.MutationRecord
		for i, rec := range b.records {
			if !d.within(b.at[i], s.opts.Root) {
				continue
			}
			if rec.Type == page.MutationAttributes && !allowed(s.opts.AttributeFilter, rec.AttributeName) {
				continue
			}
			recs = append(recs, rec)
		}
		if len(recs) > 0 {
			s.fn(recs)
		}
	}
}

func (d *Document) within(n *html.Node, rootSelector string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.first(rootSelector)
	if err != nil {
		return false
	}
	for ; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

// Batcher collects edits for Document.Batch.
type Batcher struct {
	doc     *Document
	records []page.MutationRecord
	at      []*html.Node
}

func (b *Batcher) record(at *html.Node, rec page.MutationRecord) {
	b.records = append(b.records, rec)
	b.at = append(b.at, at)
}

// Append parses markup and appends the nodes to the first element matching
// parentSelector.
func (b *Batcher) Append(parentSelector, markup string) error {
	d := b.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	parent, err := d.first(parentSelector)
	if err != nil {
		return err
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), parent)
	if err != nil {
		return fmt.Errorf("failed to parse fragment: %w", err)
	}
	var added []*html.Node
	for _, n := range nodes {
		parent.AppendChild(n)
		if n.Type == html.ElementNode {
			added = append(added, cloneNode(n, true))
		}
	}
	b.record(parent, page.MutationRecord{
		Type:   page.MutationChildList,
		Target: cloneNode(parent, false),
		Added:  added,
	})
	return nil
}

// SetAttribute sets name=value on the first element matching selector.
func (b *Batcher) SetAttribute(selector, name, value string) error {
	d := b.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.first(selector)
	if err != nil {
		return err
	}
	set := false
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == name {
			n.Attr[i].Val = value
			set = true
		}
	}
	if !set {
		n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	}
	b.record(n, page.MutationRecord{
		Type:          page.MutationAttributes,
		Target:        cloneNode(n, false),
		AttributeName: name,
	})
	return nil
}

// Remove detaches the first element matching selector.
func (b *Batcher) Remove(selector string) error {
	d := b.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.first(selector)
	if err != nil {
		return err
	}
	parent := n.Parent
	if parent == nil {
		return fmt.Errorf("cannot remove the document root")
	}
	parent.RemoveChild(n)
	delete(d.bindings, n)
	b.record(parent, page.MutationRecord{Type: page.MutationChildList, Target: cloneNode(parent, false)})
	return nil
}

func allowed(filter []string, name string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}

// cloneNode copies a node, and optionally its subtree, detached from the
// live tree.
func cloneNode(n *html.Node, deep bool) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	if deep {
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			c.AppendChild(cloneNode(child, true))
		}
	}
	return c
}
