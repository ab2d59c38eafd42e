package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/clientserver/interp"
	"github.com/chazu/clientserver/stream"
)

func newInterp(t *testing.T) *interp.Interpreter {
	t.Helper()
	in := interp.New()
	Library().Install(in)
	return in
}

func call(target stream.ID, method string, args ...stream.Argument) stream.Message {
	return stream.NewMessage(stream.Invoke, append([]stream.Argument{stream.Handle(target), stream.String(method)}, args...)...)
}

func TestLibrary_Classes(t *testing.T) {
	assert.Equal(t, []string{"Array", "Dictionary", "Text"}, Library().Classes())
}

func TestDictionary(t *testing.T) {
	in := newInterp(t)
	s := stream.NewStream().
		Add(stream.New, stream.String("Dictionary"), stream.Handle(1)).
		Append(call(1, "Set", stream.String("b"), stream.Int(2))).
		Append(call(1, "Set", stream.String("a"), stream.String("one"))).
		Append(call(1, "Get", stream.String("a"))).
		Add(stream.AssignResult, stream.Handle(2)).
		Append(call(1, "Keys"))
	require.NoError(t, in.ProcessStream(s))

	assert.True(t, in.LastResult().Equal(stream.NewMessage(stream.Reply, stream.String("a,b"))))
	got, err := in.MessageFromID(2)
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply, stream.String("one"))))

	require.NoError(t, in.ProcessMessage(call(1, "Delete", stream.String("a"))))
	assert.True(t, in.LastResult().Equal(stream.NewMessage(stream.Reply, stream.Bool(true))))
	require.NoError(t, in.ProcessMessage(call(1, "Has", stream.String("a"))))
	assert.True(t, in.LastResult().Equal(stream.NewMessage(stream.Reply, stream.Bool(false))))
	require.NoError(t, in.ProcessMessage(call(1, "Len")))
	assert.True(t, in.LastResult().Equal(stream.NewMessage(stream.Reply, stream.Int(1))))

	err = in.ProcessMessage(call(1, "Get", stream.String("missing")))
	require.Error(t, err)
	assert.ErrorIs(t, err, interp.ErrCallbackFailed)
	assert.Equal(t, stream.Error, in.LastResult().Command)
}

func TestArray_HoldsObjectsFromOtherHandles(t *testing.T) {
	in := newInterp(t)
	s := stream.NewStream().
		Add(stream.New, stream.String("Array"), stream.Handle(1)).
		Add(stream.New, stream.String("Text"), stream.Handle(2)).
		Append(call(1, "Append", stream.Int(7), stream.Handle(2))).
		Append(call(1, "At", stream.Int(1)))
	require.NoError(t, in.ProcessStream(s))

	text, err := in.ObjectFromID(2)
	require.NoError(t, err)
	assert.True(t, in.LastResult().Equal(stream.NewMessage(stream.Reply, stream.Object(text))))

	require.NoError(t, in.ProcessMessage(call(1, "At", stream.Int(0))))
	assert.True(t, in.LastResult().Equal(stream.NewMessage(stream.Reply, stream.Int(7))))

	err = in.ProcessMessage(call(1, "At", stream.Int(5)))
	assert.ErrorIs(t, err, interp.ErrCallbackFailed)

	require.NoError(t, in.ProcessMessage(call(1, "Clear")))
	require.NoError(t, in.ProcessMessage(call(1, "Len")))
	assert.True(t, in.LastResult().Equal(stream.NewMessage(stream.Reply, stream.Int(0))))
}

func TestText(t *testing.T) {
	in := newInterp(t)
	s := stream.NewStream().
		Add(stream.New, stream.String("Text"), stream.Handle(1)).
		Append(call(1, "Write", stream.String("hello"), stream.String(", "))).
		Append(call(1, "Write", stream.String("world"))).
		Append(call(1, "String"))
	require.NoError(t, in.ProcessStream(s))
	assert.True(t, in.LastResult().Equal(stream.NewMessage(stream.Reply, stream.String("hello, world"))))

	require.NoError(t, in.ProcessMessage(call(1, "Reset")))
	require.NoError(t, in.ProcessMessage(call(1, "Len")))
	assert.True(t, in.LastResult().Equal(stream.NewMessage(stream.Reply, stream.Int(0))))
}

func TestDictionary_Direct(t *testing.T) {
	d := NewDictionary()
	d.Set("x", 1)
	_, err := d.Get("y")
	assert.Error(t, err)
	assert.False(t, d.Delete("y"))
	assert.Equal(t, "x", d.Keys())
}
