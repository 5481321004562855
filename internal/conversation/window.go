// Package conversation holds the short-term conversation window passed
// through the pipeline. Windows are values: every operation returns a new
// window and never mutates the receiver, so concurrent turns cannot alias.
package conversation

// Roles for window turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in the window. ShownProductNames records which
// products the assistant surfaced in that turn.
type Turn struct {
	Role              string   `json:"role"`
	Text              string   `json:"text"`
	ShownProductNames []string `json:"shownProductNames,omitempty"`
}

// Window is an ordered, bounded sequence of recent turns.
type Window []Turn

// Append returns a new window with the turns added.
func (w Window) Append(turns ...Turn) Window {
	out := make(Window, 0, len(w)+len(turns))
	out = append(out, w...)
	out = append(out, turns...)
	return out
}

// Trim returns a new window holding at most the last max turns. Older turns
// are dropped, not summarized.
func (w Window) Trim(max int) Window {
	if max <= 0 {
		return Window{}
	}
	if len(w) <= max {
		out := make(Window, len(w))
		copy(out, w)
		return out
	}
	out := make(Window, max)
	copy(out, w[len(w)-max:])
	return out
}
