package interp

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/chazu/clientserver/stream"
)

// Releaser is implemented by objects that must be told when the last
// handle referring to them goes away.
type Releaser interface {
	Release()
}

// HandleTable maps caller-chosen handles to stored messages. It owns every
// message it holds: objects implementing Releaser are released exactly once,
// when the last entry referring to them is removed or the table is cleared.
//
// Handle 0 is never stored. It resolves to the last result, which lives
// beside the table and is not an owner.
type HandleTable struct {
	entries map[stream.ID]stream.Message
	last    stream.Message
	hasLast bool
	// refs counts table entries holding each comparable Releaser.
	refs map[any]int
}

// NewHandleTable creates an empty handle table.
func NewHandleTable() *HandleTable {
	return &HandleTable{
		entries: make(map[stream.ID]stream.Message),
		refs:    make(map[any]int),
	}
}

// Resolve returns a copy of the message stored under id. Handle 0 returns
// the last result, and is not found until some operation produced one.
func (t *HandleTable) Resolve(id stream.ID) (stream.Message, bool) {
	m, ok := t.lookup(id)
	if !ok {
		return stream.Message{}, false
	}
	return m.Clone(), true
}

// lookup is Resolve without the copy, for read-only internal use.
func (t *HandleTable) lookup(id stream.ID) (stream.Message, bool) {
	if id == 0 {
		return t.last, t.hasLast
	}
	m, ok := t.entries[id]
	return m, ok
}

// Bind stores a copy of m under id. Binding an occupied handle fails and
// leaves the existing entry untouched.
func (t *HandleTable) Bind(id stream.ID, m stream.Message) error {
	if id == 0 {
		return ErrReservedHandle
	}
	if _, ok := t.entries[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateHandle, id)
	}
	m = m.Clone()
	t.entries[id] = m
	t.retain(m)
	return nil
}

// Remove deletes the entry for id and releases what it owned. The removed
// message is returned for inspection; its objects may already be released.
func (t *HandleTable) Remove(id stream.ID) (stream.Message, bool) {
	if id == 0 {
		return stream.Message{}, false
	}
	m, ok := t.entries[id]
	if !ok {
		return stream.Message{}, false
	}
	delete(t.entries, id)
	t.release(m)
	return m, true
}

// Clear removes every entry, releasing owned objects, and resets the last
// result.
func (t *HandleTable) Clear() {
	for _, id := range t.IDs() {
		t.Remove(id)
	}
	t.ResetLast()
}

// Last returns the last result. It is the zero Message when no result is
// held.
func (t *HandleTable) Last() stream.Message { return t.last }

// HasLast reports whether a last result is held.
func (t *HandleTable) HasLast() bool { return t.hasLast }

// SetLast replaces the last result.
func (t *HandleTable) SetLast(m stream.Message) {
	t.last = m
	t.hasLast = true
}

// ResetLast empties the last result.
func (t *HandleTable) ResetLast() {
	t.last = stream.Message{}
	t.hasLast = false
}

// Len returns the number of stored entries, not counting the last result.
func (t *HandleTable) Len() int { return len(t.entries) }

// IDs returns the bound handles in ascending order.
func (t *HandleTable) IDs() []stream.ID {
	ids := make([]stream.ID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FindObject returns the lowest handle whose message carries obj as its
// first argument.
func (t *HandleTable) FindObject(obj any) (stream.ID, bool) {
	target := stream.Object(obj)
	for _, id := range t.IDs() {
		m := t.entries[id]
		if len(m.Args) > 0 && m.Args[0].Equal(target) {
			return id, true
		}
	}
	return 0, false
}

func (t *HandleTable) retain(m stream.Message) {
	for _, a := range m.Args {
		r, ok := releaserOf(a)
		if ok && isComparable(r) {
			t.refs[r]++
		}
	}
}

func (t *HandleTable) release(m stream.Message) {
	for _, a := range m.Args {
		r, ok := releaserOf(a)
		if !ok {
			continue
		}
		if isComparable(r) {
			t.refs[r]--
			if t.refs[r] > 0 {
				continue
			}
			delete(t.refs, r)
		}
		safeRelease(r)
	}
}

func releaserOf(a stream.Argument) (Releaser, bool) {
	obj, ok := a.AsObject()
	if !ok || obj == nil {
		return nil, false
	}
	r, ok := obj.(Releaser)
	return r, ok
}

// isComparable reports whether v can key the reference count map. A
// comparable type may still hold an unhashable value in an interface field.
func isComparable(v any) bool {
	return reflect.ValueOf(v).Comparable()
}

// safeRelease never lets a failing Release escape table cleanup.
func safeRelease(r Releaser) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("release of %T panicked: %v", r, p)
		}
	}()
	r.Release()
}
