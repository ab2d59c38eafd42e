package directory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/clientserver/builtin"
	"github.com/chazu/clientserver/interp"
	"github.com/chazu/clientserver/stream"
)

func openMemory(t *testing.T) *Directory {
	t.Helper()
	d, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestObserver_TracksConstructAndDelete(t *testing.T) {
	d := openMemory(t)
	fixed := time.Unix(1700000000, 0)
	d.now = func() time.Time { return fixed }

	in := interp.New(interp.WithObserver(d.Observer("s1")))
	builtin.Library().Install(in)

	require.NoError(t, in.ProcessStream(stream.NewStream().
		Add(stream.New, stream.String("Dictionary"), stream.Handle(3)).
		Add(stream.New, stream.String("Array"), stream.Handle(1)).
		Add(stream.New, stream.String("Array"), stream.Handle(2))))

	live, err := d.Live("s1")
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Session: "s1", Handle: 1, Class: "Array", CreatedAt: fixed},
		{Session: "s1", Handle: 2, Class: "Array", CreatedAt: fixed},
		{Session: "s1", Handle: 3, Class: "Dictionary", CreatedAt: fixed},
	}, live)

	counts, err := d.CountByClass("s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Array": 2, "Dictionary": 1}, counts)

	require.NoError(t, in.ProcessStream(stream.NewStream().Add(stream.Delete, stream.Handle(1))))
	live, err = d.Live("s1")
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, stream.ID(2), live[0].Handle)
}

func TestForget_OnlyTouchesOneSession(t *testing.T) {
	d := openMemory(t)
	a := d.Observer("a")
	b := d.Observer("b")
	a.ObjectEvent(interp.Event{Kind: interp.EventConstructed, ClassName: "Text", ID: 1})
	b.ObjectEvent(interp.Event{Kind: interp.EventConstructed, ClassName: "Text", ID: 1})

	require.NoError(t, d.Forget("a"))

	live, err := d.Live("a")
	require.NoError(t, err)
	assert.Empty(t, live)
	live, err = d.Live("b")
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestOpen_FilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.db")
	d, err := Open(path)
	require.NoError(t, err)
	d.Observer("s").ObjectEvent(interp.Event{Kind: interp.EventConstructed, ClassName: "Array", ID: 9})
	require.NoError(t, d.Close())

	d, err = Open(path)
	require.NoError(t, err)
	defer d.Close()
	live, err := d.Live("s")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "Array", live[0].Class)
}

func TestClosed(t *testing.T) {
	d, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err = d.Live("s")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = d.CountByClass("s")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, d.Forget("s"), ErrClosed)

	assert.NotPanics(t, func() {
		d.Observer("s").ObjectEvent(interp.Event{Kind: interp.EventConstructed, ClassName: "Array", ID: 1})
	})
}
