package wallet

import (
	"testing"

	"github.com/btcsuite/descwallet/descriptor"
	"github.com/stretchr/testify/require"
)

// Harness holds the BranchRecoveryState being tested, the recovery window being
// used, provides access to the test object, and tracks the expected horizon
// and next unfound values.
type Harness struct {
	t              *testing.T
	brs            *BranchRecoveryState
	recoveryWindow uint32
	expHorizon     uint32
	expNextUnfound uint32
}

type (
	// Stepper is a generic interface that performs an action or assertion
	// against a test Harness.
	Stepper interface {
		// Apply performs an action or assertion against branch recovery
		// state held by the Harness.  The step index is provided so
		// that any failures can report which Step failed.
		Apply(step int, harness *Harness)
	}

	// InitialiDelta is a Step that verifies our first attempt to expand the
	// branch recovery state's horizons tells us to derive a number of
	// adddresses equal to the recovery window.
	InitialDelta struct{}

	// CheckDelta is a Step that expands the branch recovery state's
	// horizon, and checks that the returned delta meets our expected
	// `delta`.
	CheckDelta struct {
		delta uint32
	}

	// CheckNumInvalid is a Step that asserts that the branch recovery
	// state reports `total` invalid children with the current horizon.
	CheckNumInvalid struct {
		total uint32
	}

	// MarkInvalid is a Step that marks the `child` as invalid in the branch
	// recovery state.
	MarkInvalid struct {
		child uint32
	}

	// ReportFound is a Step that reports `child` as being found to the
	// branch recovery state.
	ReportFound struct {
		child uint32
	}
)

// Apply extends the current horizon of the branch recovery state, and checks
// that the returned delta is equal to the test's recovery window. If the
// assertions pass, the harness's expected horizon is increased by the returned
// delta.
//
// NOTE: This should be used before applying any CheckDelta steps.
func (InitialDelta) Apply(i int, h *Harness) {
	curHorizon, delta := h.brs.ExtendHorizon()
	assertHorizon(h.t, i, curHorizon, h.expHorizon)
	assertDelta(h.t, i, delta, h.recoveryWindow)
	h.expHorizon += delta
}

// Apply extends the current horizon of the branch recovery state, and checks
// that the returned delta is equal to the CheckDelta's child value.
func (d CheckDelta) Apply(i int, h *Harness) {
	curHorizon, delta := h.brs.ExtendHorizon()
	assertHorizon(h.t, i, curHorizon, h.expHorizon)
	assertDelta(h.t, i, delta, d.delta)
	h.expHorizon += delta
}

// Apply queries the branch recovery state for the number of invalid children
// that lie between the last found address and the current horizon, and compares
// that to the CheckNumInvalid's total.
func (m CheckNumInvalid) Apply(i int, h *Harness) {
	assertNumInvalid(h.t, i, h.brs.NumInvalidInHorizon(), m.total)
}

// Apply marks the MarkInvalid's child index as invalid in the branch recovery
// state, and increments the harness's expected horizon.
func (m MarkInvalid) Apply(i int, h *Harness) {
	h.brs.MarkInvalidChild(m.child)
	h.expHorizon++
}

// Apply reports the ReportFound's child index as found in the branch recovery
// state. If the child index meets or exceeds our expected next unfound value,
// the expected value will be modified to be the child index + 1. Afterwards,
// this step asserts that the branch recovery state's next reported unfound
// value matches our potentially-updated value.
func (r ReportFound) Apply(i int, h *Harness) {
	h.brs.ReportFound(r.child)
	if r.child >= h.expNextUnfound {
		h.expNextUnfound = r.child + 1
	}
	assertNextUnfound(h.t, i, h.brs.NextUnfound(), h.expNextUnfound)
}

// Compile-time checks to ensure our steps implement the Step interface.
var _ Stepper = InitialDelta{}
var _ Stepper = CheckDelta{}
var _ Stepper = CheckNumInvalid{}
var _ Stepper = MarkInvalid{}
var _ Stepper = ReportFound{}

// TestBranchRecoveryState walks the BranchRecoveryState through a sequence of
// steps, verifying that:
//   - the horizon is properly expanded in response to found addrs
//   - report found children below or equal to previously found causes no change
//   - marking invalid children expands the horizon
func TestBranchRecoveryState(t *testing.T) {
	t.Parallel()

	const recoveryWindow = 10

	recoverySteps := []Stepper{
		// First, check that expanding our horizon returns exactly the
		// recovery window (10).
		InitialDelta{},

		// Expected horizon: 10.

		// Report finding the 2nd addr, this should cause our horizon
		// to expand by 2.
		ReportFound{1},
		CheckDelta{2},

		// Expected horizon: 12.

		// Sanity check that expanding again reports zero delta, as
		// nothing has changed.
		CheckDelta{0},

		// Now, report finding the 6th addr, which should expand our
		// horizon to 16 with a detla of 4.
		ReportFound{5},
		CheckDelta{4},

		// Expected horizon: 16.

		// Sanity check that expanding again reports zero delta, as
		// nothing has changed.
		CheckDelta{0},

		// Report finding child index 5 again, nothing should change.
		ReportFound{5},
		CheckDelta{0},

		// Report finding a lower index that what was last found,
		// nothing should change.
		ReportFound{4},
		CheckDelta{0},

		// Moving on, report finding the 11th addr, which should extend
		// our horizon to 21.
		ReportFound{10},
		CheckDelta{5},

		// Expected horizon: 21.

		// Before testing the lookahead expansion when encountering
		// invalid child keys, check that we are correctly starting with
		// no invalid keys.
		CheckNumInvalid{0},

		// Now that the window has been expanded, simulate deriving
		// invalid keys in range of addrs that are being derived for the
		// first time. The horizon will be incremented by one, as the
		// recovery manager is expected to try and derive at least the
		// next address.
		MarkInvalid{17},
		CheckNumInvalid{1},
		CheckDelta{0},

		// Expected horizon: 22.

		// Check that deriving a second invalid key shows both invalid
		// indexes currently within the horizon.
		MarkInvalid{18},
		CheckNumInvalid{2},
		CheckDelta{0},

		// Expected horizon: 23.

		// Lastly, report finding the addr immediately after our two
		// invalid keys. This should return our number of invalid keys
		// within the horizon back to 0.
		ReportFound{19},
		CheckNumInvalid{0},

		// As the 20-th key was just marked found, our horizon will need
		// to expand to 30. With the horizon at 23, the delta returned
		// should be 7.
		CheckDelta{7},
		CheckDelta{0},

		// Expected horizon: 30.
	}

	brs := NewBranchRecoveryState(recoveryWindow, 0)
	harness := &Harness{
		t:              t,
		brs:            brs,
		recoveryWindow: recoveryWindow,
	}

	for i, step := range recoverySteps {
		step.Apply(i, harness)
	}
}

func assertHorizon(t *testing.T, i int, have, want uint32) {
	assertHaveWant(t, i, "incorrect horizon", have, want)
}

func assertDelta(t *testing.T, i int, have, want uint32) {
	assertHaveWant(t, i, "incorrect delta", have, want)
}

func assertNextUnfound(t *testing.T, i int, have, want uint32) {
	assertHaveWant(t, i, "incorrect next unfound", have, want)
}

func assertNumInvalid(t *testing.T, i int, have, want uint32) {
	assertHaveWant(t, i, "incorrect num invalid children", have, want)
}

func assertHaveWant(t *testing.T, i int, msg string, have, want uint32) {
	t.Helper()
	require.Equal(t, want, have, "[step: %d] %s", i, msg)
}



// TestBranchRecoveryStateHorizon verifies horizon expansion logic.
func TestBranchRecoveryStateHorizon(t *testing.T) {
	t.Parallel()

	// Arrange: Window 10.
	brs := NewBranchRecoveryState(10, 0)

	// Act: Initial horizon extend.
	// Horizon is 0. NextUnfound is 0. MinValid = 0 + 10 = 10.
	// Delta = 10 - 0 = 10.
	// Returns current horizon (start index) and delta.
	horizon, delta := brs.ExtendHorizon()
	require.Equal(t, uint32(0), horizon)
	require.Equal(t, uint32(10), delta)

	// Act: Report found at 5.
	brs.ReportFound(5)

	// NextUnfound becomes 6.
	require.Equal(t, uint32(6), brs.NextUnfound())

	// Act: Extend again.
	// MinValid = 6 + 10 = 16.
	// Current Horizon = 10.
	// Delta = 16 - 10 = 6.
	horizon, delta = brs.ExtendHorizon()
	require.Equal(t, uint32(10), horizon)
	require.Equal(t, uint32(6), delta)
}

// TestBranchRecoveryStateInvalidChild verifies handling of invalid keys.
func TestBranchRecoveryStateInvalidChild(t *testing.T) {
	t.Parallel()

	brs := NewBranchRecoveryState(5, 0)
	// Initial: Horizon 5.
	brs.ExtendHorizon()

	// Act: Mark index 2 as invalid.
	brs.MarkInvalidChild(2)

	// Assert: Horizon incremented to 6.
	require.Equal(t, uint32(1), brs.NumInvalidInHorizon())

	// Act: Extend.
	// NextUnfound = 0. Window = 5. Invalid = 1.
	// MinValid = 0 + 5 + 1 = 6.
	// Current Horizon = 6.
	// Delta = 0.
	horizon, delta := brs.ExtendHorizon()
	require.Equal(t, uint32(6), horizon)
	require.Equal(t, uint32(0), delta)

	// Act: Found 3.
	brs.ReportFound(3)

	// Invalid child 2 is < 3, so it should be pruned.
	require.Equal(t, uint32(0), brs.NumInvalidInHorizon())
}

// TestBranchRecoveryStateFloor verifies that the horizon never settles below
// the floor, and that finds past the floor extend it as usual.
func TestBranchRecoveryStateFloor(t *testing.T) {
	t.Parallel()

	brs := NewBranchRecoveryState(5, 12)

	// The floor dominates the initial window.
	horizon, delta := brs.ExtendHorizon()
	require.Equal(t, uint32(0), horizon)
	require.Equal(t, uint32(12), delta)

	// A find below the floor leaves the horizon alone.
	brs.ReportFound(3)
	_, delta = brs.ExtendHorizon()
	require.Zero(t, delta)

	// A find near the floor pushes the horizon a window past it.
	brs.ReportFound(11)
	horizon, delta = brs.ExtendHorizon()
	require.Equal(t, uint32(12), horizon)
	require.Equal(t, uint32(5), delta)
}

// TestBranchRecoveryStateDeriveWindow verifies that windows are derived
// contiguously and stop once nothing new is found.
func TestBranchRecoveryStateDeriveWindow(t *testing.T) {
	t.Parallel()

	desc, err := descriptor.Parse(testDescriptor, testNet)
	require.NoError(t, err)

	brs := NewBranchRecoveryState(testGapLimit, 0)

	window, err := brs.deriveWindow(desc)
	require.NoError(t, err)
	require.Len(t, window, testGapLimit)
	for i, exp := range window {
		require.Equal(t, uint32(i), exp.Index)
		require.Equal(t, exp, brs.Expansion(exp.Index))
	}
	require.Equal(t, testAddress, window[0].Address.EncodeAddress())

	// Nothing found, so the scan is complete.
	window, err = brs.deriveWindow(desc)
	require.NoError(t, err)
	require.Empty(t, window)

	// A find at the edge of the window opens a new one right after it.
	brs.ReportFound(testGapLimit - 1)
	window, err = brs.deriveWindow(desc)
	require.NoError(t, err)
	require.Len(t, window, testGapLimit)
	require.Equal(t, uint32(testGapLimit), window[0].Index)
	require.Len(t, brs.Expansions(), 2*testGapLimit)
}

// TestBranchRecoveryStateMaxIndex verifies that the horizon is clamped to the
// last index a wildcard can take.
func TestBranchRecoveryStateMaxIndex(t *testing.T) {
	t.Parallel()

	brs := NewBranchRecoveryState(10, 0)
	brs.ReportFound(maxChildIndex - 3)

	horizon, delta := brs.ExtendHorizon()
	require.Equal(t, uint32(0), horizon)
	require.Equal(t, uint32(maxChildIndex), delta)

	_, delta = brs.ExtendHorizon()
	require.Zero(t, delta)
}
