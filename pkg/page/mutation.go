package page

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MutationType mirrors MutationRecord.type in the DOM.
type MutationType string

const (
	MutationChildList  MutationType = "childList"
	MutationAttributes MutationType = "attributes"
)

// MutationRecord is one entry of a delivered batch.
//
// Nodes are detached copies: for childList records Added holds the inserted
// element subtrees, for attribute records Target holds the changed element
// without children. Records are not retained after a batch is handled.
type MutationRecord struct {
	Type          MutationType
	Target        *html.Node
	AttributeName string
	Added         []*html.Node
}

// ObserveOptions selects what a MutationSource reports.
type ObserveOptions struct {
	// Root is a selector for the observed subtree, "body" by default.
	Root string
	// AttributeFilter restricts attribute records to these names.
	AttributeFilter []string
}

// MutationSource delivers batches of mutations of the host document.
//
// The callback may run on any goroutine; consumers must hand the batch over
// to their own timeline. The returned stop function is idempotent.
type MutationSource interface {
	ObserveMutations(ctx context.Context, opts ObserveOptions, fn func([]MutationRecord)) (stop func(), err error)
}

// Target is a live page: a document that can report its mutations and its
// navigations.
type Target interface {
	Document
	MutationSource

	// URL returns the current document URL.
	URL() string

	// Navigations delivers the new URL after each main-frame navigation.
	// The channel is closed when the target goes away.
	Navigations() <-chan string
}

// ParseFragment parses serialized markup (as produced by outerHTML) into
// detached element nodes. Text-only fragments yield no nodes.
func ParseFragment(markup string) ([]*html.Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	elements := nodes[:0]
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			elements = append(elements, n)
		}
	}
	return elements, nil
}

// Describe renders a short tag#id.class label for a node.
func Describe(n *html.Node) string {
	if n == nil {
		return "<nil>"
	}
	if n.Type != html.ElementNode {
		return fmt.Sprintf("#node(%d)", n.Type)
	}
	var b strings.Builder
	b.WriteString(n.Data)
	for _, a := range n.Attr {
		switch a.Key {
		case "id":
			if a.Val != "" {
				b.WriteString("#")
				b.WriteString(a.Val)
			}
		case "class":
			for _, c := range strings.Fields(a.Val) {
				b.WriteString(".")
				b.WriteString(c)
			}
		}
	}
	return b.String()
}
