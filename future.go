package skr

import "github.com/NOT-REAL-GAMES/skr/internal/cmdring"

// Future is a capability to observe completion of a past submission — the
// frame renderer hands one back from FrameEnd — without blocking unless the
// caller asks it to.
type Future struct {
	eng *Engine
	f   *cmdring.Future
}

func newFuture(eng *Engine, f *cmdring.Future) *Future {
	return &Future{eng: eng, f: f}
}

// Check reports the submission this future tracks as completed once the
// command slot it used has been reused by the ring; it does not query the
// fence. It never blocks.
func (f *Future) Check() bool { return f.f.Check(f.eng.backend) }

// Wait blocks until the submission this future tracks has completed.
func (f *Future) Wait() error { return f.f.Wait(f.eng.backend) }
