package bridge

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/entrhq/autonext/pkg/page"
)

type payload struct {
	ID      int             `json:"id"`
	Records []payloadRecord `json:"records"`
}

type payloadRecord struct {
	Type          string   `json:"type"`
	Target        string   `json:"target"`
	AttributeName string   `json:"attributeName"`
	Added         []string `json:"added"`
}

// Decode parses one binding call into the subscription id and its records.
func Decode(data string) (int, []page.MutationRecord, error) {
	var p payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return 0, nil, fmt.Errorf("decode mutation payload: %w", err)
	}

	records := make([]page.MutationRecord, 0, len(p.Records))
	for i, r := range p.Records {
		rec := page.MutationRecord{
			Type:          page.MutationType(r.Type),
			AttributeName: r.AttributeName,
		}
		if r.Target != "" {
			nodes, err := page.ParseFragment(r.Target)
			if err != nil {
				return 0, nil, fmt.Errorf("record %d target: %w", i, err)
			}
			if len(nodes) > 0 {
				rec.Target = nodes[0]
			}
		}
		for _, markup := range r.Added {
			nodes, err := page.ParseFragment(markup)
			if err != nil {
				return 0, nil, fmt.Errorf("record %d added node: %w", i, err)
			}
			rec.Added = append(rec.Added, nodes...)
		}
		switch rec.Type {
		case page.MutationChildList, page.MutationAttributes:
		default:
			return 0, nil, fmt.Errorf("record %d: unknown mutation type %q", i, r.Type)
		}
		records = append(records, rec)
	}
	return p.ID, records, nil
}

// Registry routes binding calls to the subscriber that installed the
// observer.
type Registry struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func([]page.MutationRecord)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[int]func([]page.MutationRecord))}
}

// Add registers fn and returns its id.
func (r *Registry) Add(fn func([]page.MutationRecord)) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.subs[r.nextID] = fn
	return r.nextID
}

// Remove drops the subscriber; later payloads for id are ignored.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// Len returns the number of live subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Deliver decodes a binding payload and hands it to its subscriber. It
// reports whether a subscriber received it.
func (r *Registry) Deliver(data string) (bool, error) {
	id, records, err := Decode(data)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	fn, ok := r.subs[id]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	if len(records) > 0 {
		fn(records)
	}
	return true, nil
}
