package recorder

import "sync"

// The package-level instance covers the common embedding: one Recorder per
// process unless the embedder explicitly constructs more.
var (
	defaultMu  sync.Mutex
	defaultRec *Recorder
)

// Default returns the shared Recorder, creating it with default options on
// first use.
func Default() *Recorder {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRec == nil {
		defaultRec = New()
	}
	return defaultRec
}

// SetDefault replaces the shared Recorder. Call before any use of Default.
func SetDefault(r *Recorder) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRec = r
}
