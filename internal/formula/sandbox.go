package formula

// Sandbox holds the current formula and swaps in replacements only after
// they compile and evaluate cleanly at t=0. It is not safe for concurrent use; the
// generator goroutine owns it.
type Sandbox struct {
	current *Formula
}

// NewSandbox returns a sandbox with no accepted formula.
func NewSandbox() *Sandbox {
	return &Sandbox{}
}

// Apply compiles source. On success the result becomes current; on failure
// the previously accepted formula stays current and the rejection is returned.
func (s *Sandbox) Apply(source string) (*Formula, error) {
	f, err := Compile(source)
	if err != nil {
		return s.current, err
	}
	s.current = f
	return f, nil
}

// Current returns the last accepted formula, or nil before the first success.
func (s *Sandbox) Current() *Formula {
	return s.current
}
