// Package scope models a scoped-acquisition pattern: every allocation
// or opened resource has a guaranteed release on every
// exit path, including error paths, and release errors are coalesced into
// the function's return value (the first non-success status wins).
//
// This replaces "goto cleanup_*" ladders and dispose()
// hooks with an explicit guard value whose Run method
// runs registered cleanups in reverse order and keeps only the first
// error.
package scope

// Guard accumulates cleanup functions and coalesces their errors. Use as:
//
//	g := scope.New()
//	defer func() { err = g.Run(err) }()
//	f, err := os.Open(path)
//	if err != nil { return err }
//	g.Defer(f.Close)
type Guard struct {
	cleanups []func() error
}

func New() *Guard {
	return &Guard{}
}

// Defer registers a cleanup to run (in LIFO order) when Run is called.
func (g *Guard) Defer(fn func() error) {
	g.cleanups = append(g.cleanups, fn)
}

// DeferVoid registers a cleanup with no error return.
func (g *Guard) DeferVoid(fn func()) {
	g.cleanups = append(g.cleanups, func() error {
		fn()
		return nil
	})
}

// Run executes every registered cleanup in reverse order, regardless of
// failure, and returns the first non-nil error seen — preferring first
// (err) over any cleanup error, and the first cleanup error over later
// ones.
func (g *Guard) Run(first error) error {
	result := first
	for i := len(g.cleanups) - 1; i >= 0; i-- {
		if cerr := g.cleanups[i](); cerr != nil && result == nil {
			result = cerr
		}
	}
	return result
}
