package engine

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
)

// =============================================================================
// CHECKPOINT TESTS
// =============================================================================

// TestCheckpointPreservesState: a foreach before and after a
// checkpoint returns identical sequences, through the same handle.
func TestCheckpointPreservesState(t *testing.T) {
	e := openTestDB(t, Config{NoCompact: true})
	for i := 0; i < 50; i++ {
		mustStore(t, e, fmt.Sprintf("key-%02d", i), fmt.Sprintf("val-%d", i))
	}
	// Churn: replacements and deletions leave garbage to compact away.
	for i := 0; i < 25; i++ {
		mustStore(t, e, fmt.Sprintf("key-%02d", i), "replaced")
	}
	for i := 40; i < 50; i++ {
		assert.NilError(t, e.Delete([]byte(fmt.Sprintf("key-%02d", i)), nil, false))
	}

	before := collect(t, e, "")
	sizeBefore := e.hdr.CurrentSize
	genBefore := e.Generation()

	assert.NilError(t, e.Checkpoint())

	after := collect(t, e, "")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("checkpoint changed visible state (-before +after):\n%s", diff)
	}

	assert.Assert(t, e.hdr.CurrentSize < sizeBefore, "compaction did not shrink the file")
	assert.Equal(t, e.hdr.CurrentSize, e.hdr.RepackSize, "repack baseline not reset")
	assert.Equal(t, genBefore+1, e.Generation(), "generation must advance by exactly one")
	assert.NilError(t, e.Consistent())

	_, err := os.Stat(e.Path() + ".NEW")
	assert.Assert(t, os.IsNotExist(err), "checkpoint left its sidecar behind")
}

// TestCheckpointHandleStaysValid: operations keep working through the
// original handle after the swap.
func TestCheckpointHandleStaysValid(t *testing.T) {
	e := openTestDB(t, Config{NoCompact: true})
	mustStore(t, e, "before", "1")
	assert.NilError(t, e.Checkpoint())

	mustStore(t, e, "after", "2")
	want := []kv{{"after", "2"}, {"before", "1"}}
	if diff := cmp.Diff(want, collect(t, e, "")); diff != "" {
		t.Fatalf("post-checkpoint state (-want +got):\n%s", diff)
	}

	// And the cycle repeats.
	assert.NilError(t, e.Checkpoint())
	assert.NilError(t, e.Consistent())
}

// TestCheckpointRefusedInTransaction: compaction swaps the file out
// underneath the handle, so it cannot run with a transaction open.
func TestCheckpointRefusedInTransaction(t *testing.T) {
	e := openTestDB(t, Config{NoCompact: true})
	t1, err := e.Begin()
	assert.NilError(t, err)
	assert.ErrorIs(t, e.Checkpoint(), ErrLocked)
	assert.NilError(t, e.Commit(t1))
}

// TestAutoCheckpointTrigger: a commit that grows the file past the
// rewrite thresholds compacts automatically.
func TestAutoCheckpointTrigger(t *testing.T) {
	e := openTestDB(t, Config{})
	genBefore := e.Generation()

	// One big value blows straight through MinRewrite and the ratio.
	big := bytes.Repeat([]byte{'x'}, int(MinRewrite)*3)
	assert.NilError(t, e.Store([]byte("big"), big, nil))

	assert.Equal(t, e.hdr.CurrentSize, e.hdr.RepackSize, "auto checkpoint did not run")
	assert.Equal(t, genBefore+1, e.Generation())

	val, err := e.Fetch([]byte("big"), nil)
	assert.NilError(t, err)
	assert.Assert(t, bytes.Equal(big, val))
	assert.NilError(t, e.Consistent())
}

// TestNoCompactSuppressesTrigger: the switch disables the automatic
// path but not explicit calls.
func TestNoCompactSuppressesTrigger(t *testing.T) {
	e := openTestDB(t, Config{NoCompact: true})
	big := bytes.Repeat([]byte{'x'}, int(MinRewrite)*3)
	assert.NilError(t, e.Store([]byte("big"), big, nil))
	assert.Assert(t, e.hdr.CurrentSize != e.hdr.RepackSize, "NoCompact ignored")

	assert.NilError(t, e.Checkpoint())
	assert.Equal(t, e.hdr.CurrentSize, e.hdr.RepackSize)
}

// TestCheckpointMboxKeepsComparator: the sibling file is built with
// the same comparator family.
func TestCheckpointMboxKeepsComparator(t *testing.T) {
	e := openTestDB(t, Config{MboxSort: true, NoCompact: true})
	for _, k := range []string{"user-b", "user.a", "user.a.sub"} {
		mustStore(t, e, k, "v")
	}
	assert.NilError(t, e.Checkpoint())

	var got []string
	for _, r := range collect(t, e, "") {
		got = append(got, r.K)
	}
	assert.DeepEqual(t, []string{"user.a", "user.a.sub", "user-b"}, got)
	assert.NilError(t, e.Consistent())
}
