package deadlock

import (
	"testing"
	"time"

	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

func newTestDetector(timeout time.Duration) *Detector {
	return NewDetector(Config{Timeout: timeout}, nil, nil)
}

// acquire is a test helper that fails the test on contract errors.
func acquire(t *testing.T, d *Detector, tx TxID, resource string, lt LockType) AcquireResult {
	t.Helper()
	result, err := d.RecordResourceAcquisition(tx, topology.Edge1, resource, lt)
	if err != nil {
		t.Fatalf("RecordResourceAcquisition(%s, %s) failed: %v", tx, resource, err)
	}
	return result
}

func TestDetectDeadlocks_EmptyGraph(t *testing.T) {
	d := newTestDetector(time.Second)
	if got := d.DetectDeadlocks(); len(got) != 0 {
		t.Errorf("Expected no deadlocks in empty graph, got %v", got)
	}
}

func TestDetectDeadlocks_SingleTransactionNoWaits(t *testing.T) {
	d := newTestDetector(time.Second)
	acquire(t, d, "T1", "R1", LockExclusive)

	if got := d.DetectDeadlocks(); len(got) != 0 {
		t.Errorf("Expected no deadlocks for a single holder, got %v", got)
	}
}

func TestDetectDeadlocks_LinearChain(t *testing.T) {
	d := newTestDetector(time.Second)

	// T1 holds R1, T2 holds R2, T3 holds R3
	acquire(t, d, "T1", "R1", LockExclusive)
	acquire(t, d, "T2", "R2", LockExclusive)
	acquire(t, d, "T3", "R3", LockExclusive)

	// T2 waits on R1, T3 waits on R2: T3 -> T2 -> T1, no cycle
	if r := acquire(t, d, "T2", "R1", LockExclusive); r != Blocked {
		t.Fatalf("Expected T2 blocked on R1, got %v", r)
	}
	if r := acquire(t, d, "T3", "R2", LockExclusive); r != Blocked {
		t.Fatalf("Expected T3 blocked on R2, got %v", r)
	}

	if got := d.DetectDeadlocks(); len(got) != 0 {
		t.Errorf("Expected no deadlocks in linear chain, got %v", got)
	}
}

func TestDetectDeadlocks_TwoCycle(t *testing.T) {
	d := newTestDetector(time.Second)

	// T1 holds R1 and wants R2; T2 holds R2 and wants R1
	acquire(t, d, "T1", "R1", LockExclusive)
	acquire(t, d, "T2", "R2", LockExclusive)
	acquire(t, d, "T1", "R2", LockExclusive)
	acquire(t, d, "T2", "R1", LockExclusive)

	got := d.DetectDeadlocks()
	if _, ok := got["T1"]; !ok {
		t.Error("Expected T1 in deadlocked set")
	}
	if _, ok := got["T2"]; !ok {
		t.Error("Expected T2 in deadlocked set")
	}
}

func TestDetectDeadlocks_ThreeCycle(t *testing.T) {
	d := newTestDetector(time.Second)

	acquire(t, d, "T1", "R1", LockExclusive)
	acquire(t, d, "T2", "R2", LockExclusive)
	acquire(t, d, "T3", "R3", LockExclusive)

	acquire(t, d, "T1", "R2", LockExclusive) // T1 -> T2
	acquire(t, d, "T2", "R3", LockExclusive) // T2 -> T3
	acquire(t, d, "T3", "R1", LockExclusive) // T3 -> T1

	got := d.DetectDeadlocks()
	for _, tx := range []TxID{"T1", "T2", "T3"} {
		if _, ok := got[tx]; !ok {
			t.Errorf("Expected %s in deadlocked set, got %v", tx, got)
		}
	}
}

func TestDetectDeadlocks_IndependentCycles(t *testing.T) {
	d := newTestDetector(time.Second)

	// Cycle A: T1 <-> T2
	acquire(t, d, "T1", "R1", LockExclusive)
	acquire(t, d, "T2", "R2", LockExclusive)
	acquire(t, d, "T1", "R2", LockExclusive)
	acquire(t, d, "T2", "R1", LockExclusive)

	// Cycle B: T3 <-> T4
	acquire(t, d, "T3", "R3", LockExclusive)
	acquire(t, d, "T4", "R4", LockExclusive)
	acquire(t, d, "T3", "R4", LockExclusive)
	acquire(t, d, "T4", "R3", LockExclusive)

	got := d.DetectDeadlocks()
	for _, tx := range []TxID{"T1", "T2", "T3", "T4"} {
		if _, ok := got[tx]; !ok {
			t.Errorf("Expected %s in deadlocked set, got %v", tx, got)
		}
	}
}

func TestDetectDeadlocks_ChainIntoCycleExcludesChain(t *testing.T) {
	d := newTestDetector(time.Second)

	// T1 <-> T2 cycle, with T3 waiting behind T1 but not part of the cycle
	acquire(t, d, "T1", "R1", LockExclusive)
	acquire(t, d, "T2", "R2", LockExclusive)
	acquire(t, d, "T1", "R2", LockExclusive)
	acquire(t, d, "T2", "R1", LockExclusive)

	acquire(t, d, "T3", "R5", LockExclusive)
	acquire(t, d, "T3", "R1", LockExclusive) // T3 -> T1, no back path

	got := d.DetectDeadlocks()
	if _, ok := got["T3"]; ok {
		t.Errorf("T3 is not a cycle member, got %v", got)
	}
	if len(got) != 2 {
		t.Errorf("Expected exactly {T1, T2}, got %v", got)
	}
}

func TestSelectVictim_YoungestDies(t *testing.T) {
	d := newTestDetector(time.Second)

	base := time.Now()
	deadlocked := map[TxID]struct{}{"T1": {}, "T2": {}}
	startTimes := map[TxID]time.Time{
		"T1": base,
		"T2": base.Add(100 * time.Millisecond),
	}

	if victim := d.SelectVictim(deadlocked, startTimes); victim != "T2" {
		t.Errorf("Expected youngest T2 as victim, got %s", victim)
	}
}

func TestSelectVictim_EmptySet(t *testing.T) {
	d := newTestDetector(time.Second)
	if victim := d.SelectVictim(map[TxID]struct{}{}, nil); victim != "" {
		t.Errorf("Expected zero victim for empty set, got %s", victim)
	}
}

func TestSelectVictim_Deterministic(t *testing.T) {
	d := newTestDetector(time.Second)

	now := time.Now()
	deadlocked := map[TxID]struct{}{"TA": {}, "TB": {}}
	startTimes := map[TxID]time.Time{"TA": now, "TB": now}

	first := d.SelectVictim(deadlocked, startTimes)
	for i := 0; i < 10; i++ {
		if got := d.SelectVictim(deadlocked, startTimes); got != first {
			t.Fatalf("Victim selection must be deterministic: %s vs %s", first, got)
		}
	}
}

func TestIsTimedOut(t *testing.T) {
	d := newTestDetector(1000 * time.Millisecond)
	if !d.IsTimedOut("T1", time.Now().Add(-2000*time.Millisecond)) {
		t.Error("2000ms-old transaction must be timed out at 1000ms threshold")
	}

	d = newTestDetector(5000 * time.Millisecond)
	if d.IsTimedOut("T1", time.Now().Add(-500*time.Millisecond)) {
		t.Error("500ms-old transaction must not be timed out at 5000ms threshold")
	}
}

func TestIsTimedOut_ZeroThreshold(t *testing.T) {
	d := newTestDetector(0)
	if !d.IsTimedOut("T1", time.Now().Add(-time.Millisecond)) {
		t.Error("With zero threshold, any past start time is timed out")
	}
}

func TestPerformRecovery_ResolvesCycle(t *testing.T) {
	d := newTestDetector(time.Second)

	acquire(t, d, "T1", "R1", LockExclusive)
	acquire(t, d, "T2", "R2", LockExclusive)
	acquire(t, d, "T1", "R2", LockExclusive)
	acquire(t, d, "T2", "R1", LockExclusive)

	if got := d.DetectDeadlocks(); len(got) == 0 {
		t.Fatal("Expected a deadlock before recovery")
	}

	d.PerformRecovery("T2")

	if got := d.DetectDeadlocks(); len(got) != 0 {
		t.Errorf("Expected cycle resolved after recovery, got %v", got)
	}
	// T1's queued wait on R2 must have been granted when T2 released it.
	held := d.HeldResources("T1")
	if len(held) != 2 {
		t.Errorf("Expected T1 to hold both resources after recovery, got %v", held)
	}
}

func TestPerformRecovery_Idempotent(t *testing.T) {
	d := newTestDetector(time.Second)
	acquire(t, d, "T1", "R1", LockExclusive)

	d.PerformRecovery("T1")
	d.PerformRecovery("T1") // No-op

	if len(d.ActiveTransactions()) != 0 {
		t.Error("Expected empty registry after recovery")
	}
}

func TestRecoveryDoesNotTouchUnrelatedCycle(t *testing.T) {
	d := newTestDetector(time.Second)

	// Two independent cycles
	acquire(t, d, "T1", "R1", LockExclusive)
	acquire(t, d, "T2", "R2", LockExclusive)
	acquire(t, d, "T1", "R2", LockExclusive)
	acquire(t, d, "T2", "R1", LockExclusive)

	acquire(t, d, "T3", "R3", LockExclusive)
	acquire(t, d, "T4", "R4", LockExclusive)
	acquire(t, d, "T3", "R4", LockExclusive)
	acquire(t, d, "T4", "R3", LockExclusive)

	d.PerformRecovery("T1")

	got := d.DetectDeadlocks()
	if _, ok := got["T3"]; !ok {
		t.Error("Unrelated cycle must still be reported after resolving the first")
	}
	if _, ok := got["T4"]; !ok {
		t.Error("Unrelated cycle must still be reported after resolving the first")
	}
	if _, ok := got["T2"]; ok {
		t.Error("T2's cycle was resolved; it must not be reported")
	}
}

func TestRemoveTransaction_ReleasesWaiters(t *testing.T) {
	d := newTestDetector(time.Second)

	acquire(t, d, "T1", "R1", LockExclusive)
	if r := acquire(t, d, "T2", "R1", LockExclusive); r != Blocked {
		t.Fatalf("Expected T2 blocked, got %v", r)
	}

	d.RemoveTransaction("T1")

	held := d.HeldResources("T2")
	if len(held) != 1 || held[0] != "R1" {
		t.Errorf("Expected T2 granted R1 after T1 removal, got %v", held)
	}
}

func TestSharedLocks_Compatible(t *testing.T) {
	d := newTestDetector(time.Second)

	if r := acquire(t, d, "T1", "R1", LockShared); r != Granted {
		t.Fatalf("Expected first shared lock granted, got %v", r)
	}
	if r := acquire(t, d, "T2", "R1", LockShared); r != Granted {
		t.Errorf("Expected second shared lock granted, got %v", r)
	}
	if r := acquire(t, d, "T3", "R1", LockExclusive); r != Blocked {
		t.Errorf("Expected exclusive request blocked behind shared holders, got %v", r)
	}
}

func TestSharedLocks_UpgradeBlocksWhileOthersHold(t *testing.T) {
	d := newTestDetector(time.Second)

	acquire(t, d, "T1", "R1", LockShared)
	acquire(t, d, "T2", "R1", LockShared)

	if r := acquire(t, d, "T1", "R1", LockExclusive); r != Blocked {
		t.Fatalf("Expected upgrade blocked while T2 shares, got %v", r)
	}
	// An upgrade wait is not a cycle: T1 blocks on T2, nobody blocks on T1.
	if got := d.DetectDeadlocks(); len(got) != 0 {
		t.Errorf("Expected no deadlock for a pending upgrade, got %v", got)
	}
}

func TestSharedLocks_UpgradeGrantedWhenSharerReleases(t *testing.T) {
	d := newTestDetector(time.Second)

	acquire(t, d, "T1", "R1", LockShared)
	acquire(t, d, "T2", "R1", LockShared)
	if r := acquire(t, d, "T1", "R1", LockExclusive); r != Blocked {
		t.Fatalf("Expected upgrade blocked, got %v", r)
	}

	d.RecordResourceRelease("T2", "R1")

	// T1 must now hold R1 exclusively, not sit queued forever.
	if waiting := d.WaitingFor("T1"); len(waiting) != 0 {
		t.Errorf("Expected upgrade granted after release, still waiting on %v", waiting)
	}
	if held := d.HeldResources("T1"); len(held) != 1 || held[0] != "R1" {
		t.Errorf("Expected T1 to hold R1, got %v", held)
	}
	if r := acquire(t, d, "T3", "R1", LockShared); r != Blocked {
		t.Errorf("Expected shared request blocked behind exclusive holder, got %v", r)
	}
}

func TestSharedLocks_UpgradeGrantedAfterRecovery(t *testing.T) {
	d := newTestDetector(time.Second)

	acquire(t, d, "T1", "R1", LockShared)
	acquire(t, d, "T2", "R1", LockShared)
	if r := acquire(t, d, "T1", "R1", LockExclusive); r != Blocked {
		t.Fatalf("Expected upgrade blocked, got %v", r)
	}

	d.PerformRecovery("T2")

	locks := d.Locks()
	if len(locks) != 1 {
		t.Fatalf("Expected exactly one lock after recovery, got %v", locks)
	}
	if locks[0].HolderTx != "T1" || locks[0].Type != LockExclusive {
		t.Errorf("Expected T1 holding R1 exclusively, got %+v", locks[0])
	}
	if waiting := d.WaitingFor("T1"); len(waiting) != 0 {
		t.Errorf("Expected no residual wait after recovery, got %v", waiting)
	}
}

func TestLocks_SnapshotSortedAndComplete(t *testing.T) {
	d := newTestDetector(time.Second)

	acquire(t, d, "T2", "R2", LockExclusive)
	acquire(t, d, "T1", "R1", LockShared)
	acquire(t, d, "T3", "R1", LockShared)

	locks := d.Locks()
	if len(locks) != 3 {
		t.Fatalf("Expected 3 lock entries, got %v", locks)
	}
	want := []struct {
		resource string
		tx       TxID
		lt       LockType
	}{
		{"R1", "T1", LockShared},
		{"R1", "T3", LockShared},
		{"R2", "T2", LockExclusive},
	}
	for i, w := range want {
		got := locks[i]
		if got.ResourceKey != w.resource || got.HolderTx != w.tx || got.Type != w.lt {
			t.Errorf("locks[%d] = %+v, want %s held by %s as %s", i, got, w.resource, w.tx, w.lt)
		}
		if got.HolderNode != topology.Edge1 {
			t.Errorf("locks[%d] holder node = %s, want %s", i, got.HolderNode, topology.Edge1)
		}
	}

	d.RemoveTransaction("T1")
	d.RemoveTransaction("T2")
	d.RemoveTransaction("T3")
	if locks := d.Locks(); len(locks) != 0 {
		t.Errorf("Expected empty snapshot after removals, got %v", locks)
	}
}

func TestRecordWaitFor_RejectsSelfLoop(t *testing.T) {
	d := newTestDetector(time.Second)
	if err := d.RecordWaitFor("T1", "T1", "R1"); err == nil {
		t.Error("Expected self-wait to be rejected")
	}
}

func TestRecordResourceAcquisition_ContractErrors(t *testing.T) {
	d := newTestDetector(time.Second)

	if _, err := d.RecordResourceAcquisition("", topology.Edge1, "R1", LockExclusive); err == nil {
		t.Error("Expected error for empty transaction ID")
	}
	if _, err := d.RecordResourceAcquisition("T1", topology.Edge1, "", LockExclusive); err == nil {
		t.Error("Expected error for empty resource key")
	}
}

func TestWaitingFor(t *testing.T) {
	d := newTestDetector(time.Second)

	acquire(t, d, "T1", "R1", LockExclusive)
	acquire(t, d, "T2", "R1", LockExclusive)

	waiting := d.WaitingFor("T2")
	if len(waiting) != 1 || waiting[0] != "T1" {
		t.Errorf("Expected T2 waiting on T1, got %v", waiting)
	}
	if len(d.WaitingFor("T1")) != 0 {
		t.Error("T1 is not waiting on anyone")
	}
}
