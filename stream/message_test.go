package stream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct{ name string }

func TestMessage_Accessors(t *testing.T) {
	w := &widget{name: "w"}
	m := NewMessage(Invoke, Object(w), String("Foo"), Int(42), Handle(7))

	assert.Equal(t, Invoke, m.Cmd())
	assert.Equal(t, 4, m.NumArgs())
	assert.Equal(t, ArgObject, m.ArgType(0))
	assert.Equal(t, ArgString, m.ArgType(1))
	assert.Equal(t, ArgInvalid, m.ArgType(9))

	obj, ok := m.Args[0].AsObject()
	require.True(t, ok)
	assert.Same(t, w, obj)

	method, ok := m.Args[1].AsString()
	require.True(t, ok)
	assert.Equal(t, "Foo", method)

	id, ok := m.Args[3].AsID()
	require.True(t, ok)
	assert.Equal(t, ID(7), id)

	_, ok = m.Arg(-1)
	assert.False(t, ok)
}

func TestArgument_NumericWidening(t *testing.T) {
	v, ok := Uint(5).AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(5), v)

	_, ok = Int(-1).AsUint()
	assert.False(t, ok)

	f, ok := Int(3).AsFloat()
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	_, ok = String("3").AsInt()
	assert.False(t, ok)
}

func TestArgument_EqualObjectsByIdentity(t *testing.T) {
	a, b := &widget{name: "x"}, &widget{name: "x"}
	assert.True(t, Object(a).Equal(Object(a)))
	assert.False(t, Object(a).Equal(Object(b)))
	assert.True(t, Object(nil).Equal(Object(nil)))
	assert.False(t, Handle(1).Equal(Uint(1)))
}

type holder struct{ v any }

func TestArgument_EqualUnhashableObject(t *testing.T) {
	h := holder{v: []int{1}}
	assert.NotPanics(t, func() {
		assert.False(t, Object(h).Equal(Object(h)))
	})
	assert.True(t, Object(holder{v: 1}).Equal(Object(holder{v: 1})))
}

func TestMessage_CloneIsIndependent(t *testing.T) {
	orig := NewMessage(Reply, Bytes([]byte("abc")), String("ok"))
	c := orig.Clone()
	require.True(t, c.Equal(orig))

	c.Args[1] = String("changed")
	b, _ := c.Args[0].AsBytes()
	b[0] = 'z'

	s, _ := orig.Args[1].AsString()
	assert.Equal(t, "ok", s)
	ob, _ := orig.Args[0].AsBytes()
	assert.Equal(t, "abc", string(ob))
}

func TestCommandNames(t *testing.T) {
	assert.Equal(t, "AssignResult", AssignResult.String())
	assert.Equal(t, "Command(99)", Command(99).String())

	c, ok := CommandFromString("invoke")
	assert.True(t, ok)
	assert.Equal(t, Invoke, c)
	_, ok = CommandFromString("bogus")
	assert.False(t, ok)
}

func TestStream_Print(t *testing.T) {
	s := NewStream().
		Add(New, String("Widget"), Handle(5)).
		Add(Invoke, Handle(5), String("Foo"), Int(42))

	var buf bytes.Buffer
	s.Print(&buf)

	want := "Message 0 = New\n" +
		"  Argument 0 = string_value {Widget}\n" +
		"  Argument 1 = id_value {5}\n" +
		"Message 1 = Invoke\n" +
		"  Argument 0 = id_value {5}\n" +
		"  Argument 1 = string_value {Foo}\n" +
		"  Argument 2 = int64_value {42}\n"
	assert.Equal(t, want, buf.String())
}
