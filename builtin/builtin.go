// Package builtin provides a small stock class library: string-keyed
// dictionaries, growable arrays and text buffers. Sessions install it so
// that clients have something to build without registering their own
// classes.
package builtin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/clientserver/wrap"
)

// Library returns a fresh library holding the Dictionary, Array and Text
// classes.
func Library() *wrap.Library {
	l := wrap.NewLibrary()
	l.MustRegister("Dictionary", NewDictionary)
	l.MustRegister("Array", NewArray)
	l.MustRegister("Text", NewText)
	return l
}

// Dictionary maps string keys to arbitrary values.
type Dictionary struct {
	entries map[string]any
}

func NewDictionary() *Dictionary {
	return &Dictionary{entries: make(map[string]any)}
}

func (d *Dictionary) Set(key string, value any) {
	d.entries[key] = value
}

func (d *Dictionary) Get(key string) (any, error) {
	v, ok := d.entries[key]
	if !ok {
		return nil, fmt.Errorf("no key %q", key)
	}
	return v, nil
}

func (d *Dictionary) Has(key string) bool {
	_, ok := d.entries[key]
	return ok
}

// Delete removes key and reports whether it was present.
func (d *Dictionary) Delete(key string) bool {
	_, ok := d.entries[key]
	delete(d.entries, key)
	return ok
}

func (d *Dictionary) Len() int { return len(d.entries) }

// Keys returns the sorted keys joined by commas.
func (d *Dictionary) Keys() string {
	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// Array is an ordered, growable list of values.
type Array struct {
	items []any
}

func NewArray() *Array { return &Array{} }

// Append adds values and returns the new length.
func (a *Array) Append(values ...any) int {
	a.items = append(a.items, values...)
	return len(a.items)
}

func (a *Array) At(i int) (any, error) {
	if i < 0 || i >= len(a.items) {
		return nil, fmt.Errorf("index %d out of range [0,%d)", i, len(a.items))
	}
	return a.items[i], nil
}

func (a *Array) Len() int { return len(a.items) }

func (a *Array) Clear() { a.items = nil }

// Text accumulates a string.
type Text struct {
	b strings.Builder
}

func NewText() *Text { return &Text{} }

// Write appends parts and returns the new length in bytes.
func (t *Text) Write(parts ...string) int {
	for _, p := range parts {
		t.b.WriteString(p)
	}
	return t.b.Len()
}

func (t *Text) String() string { return t.b.String() }

func (t *Text) Len() int { return t.b.Len() }

func (t *Text) Reset() { t.b.Reset() }
