package interp

import "github.com/chazu/clientserver/stream"

// Expand returns a copy of m in which every handle argument bound in the
// table (0 meaning the last result) is replaced by all arguments of the
// bound message, in order. Unbound handles are left as they are. Expansion
// is one level deep: spliced arguments are not expanded again.
func (in *Interpreter) Expand(m stream.Message) stream.Message {
	out := stream.Message{Command: m.Command, Args: make([]stream.Argument, 0, len(m.Args))}
	for _, a := range m.Args {
		if id, ok := a.AsID(); ok {
			if stored, ok := in.handles.lookup(id); ok {
				out.Args = append(out.Args, stored.Clone().Args...)
				continue
			}
		}
		out.Args = append(out.Args, a)
	}
	return out
}
