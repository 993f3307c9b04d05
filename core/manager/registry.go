package manager

import (
	"strings"
	"sync"

	avl "gitlab.com/yawning/avl.git"
)

// regEntry is what registry stores in the avl tree: ordering by ID keeps
// List/Info snapshots deterministic regardless of insertion order,
// following the decoy worker's surbETAs tree.
type regEntry struct {
	ID    string
	Value interface{}
}

// registry is a generic, id-ordered collection used for both the
// connection registry and each connection's channel registry.
type registry struct {
	mu   sync.Mutex
	tree *avl.Tree
	byID map[string]*avl.Node
}

func newRegistry() *registry {
	return &registry{
		tree: avl.New(func(a, b interface{}) int {
			return strings.Compare(a.(*regEntry).ID, b.(*regEntry).ID)
		}),
		byID: make(map[string]*avl.Node),
	}
}

// Put inserts or replaces the value stored under id.
func (r *registry) Put(id string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if node, ok := r.byID[id]; ok {
		r.tree.Remove(node)
		delete(r.byID, id)
	}
	node := r.tree.Insert(&regEntry{ID: id, Value: value})
	r.byID[id] = node
}

// Get returns the value stored under id, if any.
func (r *registry) Get(id string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return node.Value.(*regEntry).Value, true
}

// Delete removes id from the registry, reporting whether it was present.
func (r *registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.byID[id]
	if !ok {
		return false
	}
	r.tree.Remove(node)
	delete(r.byID, id)
	return true
}

// Len reports how many entries are registered.
func (r *registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Len()
}

// Each walks every entry in ascending id order, stopping early if fn
// returns false.
func (r *registry) Each(fn func(id string, value interface{}) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iter := r.tree.Iterator(avl.Forward)
	for node := iter.First(); node != nil; node = iter.Next() {
		e := node.Value.(*regEntry)
		if !fn(e.ID, e.Value) {
			return
		}
	}
}

// IDs returns every registered id in ascending order.
func (r *registry) IDs() []string {
	ids := make([]string, 0, r.Len())
	r.Each(func(id string, _ interface{}) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}
