package audit

import "context"

// Recorder writes audit entries. Record never returns an error: failures are
// handled inside the implementation so callers cannot be blocked by the
// trail.
type Recorder interface {
	Record(ctx context.Context, entry *Entry)
}

// NopRecorder discards every entry. Useful in tests and tooling.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *Entry) {}
