package plugin

// LoadState is the load-error state of a plugin record.
// OK -> Faulted is one-way; clearing a fault is an administrative action.
type LoadState int

const (
	LoadOK      LoadState = iota // Loadable
	LoadFaulted                  // A scan or load failed and was recorded
)

// String returns a human-readable state name.
func (s LoadState) String() string {
	switch s {
	case LoadOK:
		return "ok"
	case LoadFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// CanLoad reports whether the manager may attempt to construct the plugin.
func (s LoadState) CanLoad() bool {
	return s == LoadOK
}
