// Package testutil provides golden-snapshot and pretty-diff helpers for
// exercising Documents.Materialize/Normalize results against fixed
// expectations, in the idiom the rest of the module's tests already use.
package testutil

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/samsarahq/go/snapshotter"
)

// Snapshotter records a named value to a golden file on disk (under
// ./snapshots relative to the test's package) and fails the test on the
// first mismatch; rerun with `-update` to accept new output.
type Snapshotter struct {
	*snapshotter.Snapshotter
}

// NewSnapshotter wraps snapshotter.New for callers that don't want to
// depend on the upstream package directly.
func NewSnapshotter(t *testing.T) *Snapshotter {
	return &Snapshotter{Snapshotter: snapshotter.New(t)}
}

// Diff renders a human-readable diff between want and got using the same
// pretty-printer the reference executor tests compare materialized trees
// with. An empty string means want and got are equal.
func Diff(want, got interface{}) string {
	return pretty.Compare(want, got)
}

// RequireEqual fails the test with a pretty diff if want and got are not
// deeply equal, instead of testify's less readable %+v dump.
func RequireEqual(t *testing.T, want, got interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if d := Diff(want, got); d != "" {
		t.Fatalf("mismatch (-want +got):\n%s", d)
	}
}
