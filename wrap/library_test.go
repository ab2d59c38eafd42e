package wrap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/clientserver/interp"
	"github.com/chazu/clientserver/stream"
)

type counter struct {
	n int
}

func newCounter() *counter { return &counter{} }

func (c *counter) Add(d int) int { c.n += d; return c.n }

func (c *counter) Sum(xs ...float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func (c *counter) Div(d int) (int, error) {
	if d == 0 {
		return 0, errors.New("division by zero")
	}
	return c.n / d, nil
}

func (c *counter) Pair() (string, bool) { return "pair", true }
func (c *counter) Adopt(o *counter) int { return o.n }
func (c *counter) Echo(id stream.ID) stream.ID { return id }
func (c *counter) Small(v int8) int8 { return v }
func (c *counter) Blob(b []byte) int { return len(b) }
func (c *counter) Self() *counter { return c }
func (c *counter) Nothing() {}
func (c *counter) Boxed(v any) any { return v }
func (c *counter) Label(prefix string, n uint) string { return fmt.Sprintf("%s%d", prefix, n) }

func newInterp(t *testing.T) (*interp.Interpreter, *Library) {
	t.Helper()
	l := NewLibrary()
	require.NoError(t, l.Register("Counter", newCounter))
	in := interp.New()
	l.Install(in)
	require.NoError(t, in.ProcessStream(stream.NewStream().
		Add(stream.New, stream.String("Counter"), stream.Handle(1))))
	return in, l
}

func invoke(in *interp.Interpreter, target stream.ID, method string, args ...stream.Argument) (stream.Message, error) {
	all := append([]stream.Argument{stream.Handle(target), stream.String(method)}, args...)
	err := in.ProcessStream(stream.NewStream().Add(stream.Invoke, all...))
	return in.LastResult(), err
}

func TestRegister_Validation(t *testing.T) {
	l := NewLibrary()

	assert.ErrorIs(t, l.Register("A", 42), ErrBadConstructor)
	assert.ErrorIs(t, l.Register("A", func(int) *counter { return nil }), ErrBadConstructor)
	assert.ErrorIs(t, l.Register("A", func() (*counter, int) { return nil, 0 }), ErrBadConstructor)
	assert.ErrorIs(t, l.Register("A", func() fmt.Stringer { return nil }), ErrBadConstructor)

	require.NoError(t, l.Register("Counter", newCounter))
	assert.ErrorIs(t, l.Register("Counter", func() *struct{} { return nil }), ErrDuplicateClass)
	assert.ErrorIs(t, l.Register("Tally", newCounter), ErrDuplicateClass)

	assert.Equal(t, []string{"Counter"}, l.Classes())
	assert.Panics(t, func() { l.MustRegister("Counter", newCounter) })
}

func TestInstall_ConstructsAndResolvesClass(t *testing.T) {
	in, l := newInterp(t)

	obj, err := in.ObjectFromID(1)
	require.NoError(t, err)
	assert.IsType(t, &counter{}, obj)

	name, ok := l.ClassOf(obj)
	assert.True(t, ok)
	assert.Equal(t, "Counter", name)
	assert.Equal(t, "Counter", in.ClassName(obj))

	_, ok = l.ClassOf(nil)
	assert.False(t, ok)
}

func TestFactory_DoesNotClaimUnknownClass(t *testing.T) {
	l := NewLibrary()
	obj, claimed, err := l.Factory()("Nope", 1)
	assert.NoError(t, err)
	assert.Nil(t, obj)
	assert.False(t, claimed)
}

func TestFactory_ConstructorError(t *testing.T) {
	l := NewLibrary()
	require.NoError(t, l.Register("Broken", func() (*counter, error) { return nil, errors.New("out of parts") }))
	in := interp.New()
	l.Install(in)

	obj, claimed, err := l.Factory()("Broken", 1)
	assert.Nil(t, obj)
	assert.True(t, claimed)
	assert.ErrorContains(t, err, "out of parts")

	err = in.ProcessStream(stream.NewStream().Add(stream.New, stream.String("Broken"), stream.Handle(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, interp.ErrCallbackFailed)
	assert.NotContains(t, err.Error(), "panicked")
	var se *interp.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "constructing Broken: out of parts", se.Diagnostic)
	assert.Equal(t, 0, in.Handles().Len())
}

func TestCommand_ScalarResults(t *testing.T) {
	in, _ := newInterp(t)

	got, err := invoke(in, 1, "Add", stream.Int(5))
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply, stream.Int(5))))

	got, err = invoke(in, 1, "Pair")
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply, stream.String("pair"), stream.Bool(true))))

	got, err = invoke(in, 1, "Label", stream.String("n="), stream.Int(3))
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply, stream.String("n=3"))))

	got, err = invoke(in, 1, "Nothing")
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply)))
}

func TestCommand_Variadic(t *testing.T) {
	in, _ := newInterp(t)

	got, err := invoke(in, 1, "Sum", stream.Int(1), stream.Float(2.5), stream.Uint(3))
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply, stream.Float(6.5))))

	got, err = invoke(in, 1, "Sum")
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply, stream.Float(0))))
}

func TestCommand_TrailingError(t *testing.T) {
	in, _ := newInterp(t)

	_, err := invoke(in, 1, "Div", stream.Int(0))
	require.Error(t, err)
	assert.ErrorIs(t, err, interp.ErrCallbackFailed)
	assert.True(t, in.LastResult().Equal(stream.NewMessage(stream.Error, stream.String("division by zero"))))

	_, err = invoke(in, 1, "Add", stream.Int(9))
	require.NoError(t, err)
	got, err := invoke(in, 1, "Div", stream.Int(3))
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply, stream.Int(3))))
}

func TestCommand_ObjectArguments(t *testing.T) {
	in, _ := newInterp(t)
	require.NoError(t, in.ProcessStream(stream.NewStream().
		Add(stream.New, stream.String("Counter"), stream.Handle(2)).
		Add(stream.Invoke, stream.Handle(2), stream.String("Add"), stream.Int(3))))

	got, err := invoke(in, 1, "Adopt", stream.Handle(2))
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply, stream.Int(3))))

	self, err := invoke(in, 1, "Self")
	require.NoError(t, err)
	obj, _ := in.ObjectFromID(1)
	assert.True(t, self.Equal(stream.NewMessage(stream.Reply, stream.Object(obj))))
}

func TestCommand_UnboundHandleForObjectParameter(t *testing.T) {
	in, _ := newInterp(t)

	_, err := invoke(in, 1, "Adopt", stream.Handle(99))
	require.Error(t, err)
	assert.ErrorIs(t, err, interp.ErrUnknownHandle)
}

func TestCommand_HandleParameterKeepsHandle(t *testing.T) {
	in, _ := newInterp(t)

	got, err := invoke(in, 1, "Echo", stream.Handle(99))
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply, stream.Handle(99))))
}

func TestCommand_ArgumentErrors(t *testing.T) {
	in, _ := newInterp(t)

	cases := []struct {
		method string
		args   []stream.Argument
		want   error
	}{
		{"Missing", nil, ErrNoMethod},
		{"Add", nil, ErrArgCount},
		{"Add", []stream.Argument{stream.Int(1), stream.Int(2)}, ErrArgCount},
		{"Add", []stream.Argument{stream.String("one")}, ErrArgType},
		{"Small", []stream.Argument{stream.Int(300)}, ErrArgType},
		{"Label", []stream.Argument{stream.String("x"), stream.Int(-1)}, ErrArgType},
		{"Blob", []stream.Argument{stream.String("x")}, ErrArgType},
		{"Adopt", []stream.Argument{stream.Int(1)}, ErrArgType},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			_, err := invoke(in, 1, tc.method, tc.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, interp.ErrCallbackFailed)
			assert.Equal(t, stream.Error, in.LastResult().Command)
		})
	}
}

func TestCommand_BytesAndInterfaces(t *testing.T) {
	in, _ := newInterp(t)

	got, err := invoke(in, 1, "Blob", stream.Bytes([]byte{1, 2, 3}))
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply, stream.Int(3))))

	got, err = invoke(in, 1, "Boxed", stream.String("inside"))
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply, stream.String("inside"))))

	got, err = invoke(in, 1, "Boxed", stream.Object(nil))
	require.NoError(t, err)
	assert.True(t, got.Equal(stream.NewMessage(stream.Reply, stream.Object(nil))))
}
