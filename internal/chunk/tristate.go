package chunk

// TriState is a three-valued answer where Default means "no opinion".
type TriState int

const (
	Default TriState = iota
	True
	False
)

// String returns "default", "true" or "false".
func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "default"
	}
}

// Or resolves Default to fallback.
func (t TriState) Or(fallback bool) bool {
	switch t {
	case True:
		return true
	case False:
		return false
	default:
		return fallback
	}
}
