package timer

import "testing"

func resetQueue(t *testing.T) {
	t.Helper()
	queueLock.Lock()
	queue = nil
	queueLock.Unlock()
	tickRateNS = 1
	nowFn = func() Tick { return 0 }
}

func TestTickToNSClampsOnOverflow(t *testing.T) {
	SetTickRate(1 << 40)
	if got := TickToNS(Tick(1 << 40)); got != 1<<63-1 {
		t.Fatalf("expected clamp to MaxInt64, got %d", got)
	}
	tickRateNS = 1
}

func TestNSToTickRoundsDown(t *testing.T) {
	SetTickRate(100)
	if got := NSToTick(250); got != 2 {
		t.Fatalf("expected 2 ticks, got %d", got)
	}
	if got := NSToTick(0); got != 0 {
		t.Fatalf("expected 0 ticks for non-positive duration, got %d", got)
	}
	tickRateNS = 1
}

func TestArmOrdersByDeadline(t *testing.T) {
	resetQueue(t)

	var fired []string
	mk := func(name string, deadline Tick) *Timer {
		return &Timer{Name: name, Deadline: deadline, Callback: func(tm *Timer) { fired = append(fired, tm.Name) }}
	}

	late := mk("late", 30)
	early := mk("early", 10)
	mid := mk("mid", 20)

	if err := Arm(late); err != nil {
		t.Fatalf("arm late: %v", err)
	}
	if err := Arm(early); err != nil {
		t.Fatalf("arm early: %v", err)
	}
	if err := Arm(mid); err != nil {
		t.Fatalf("arm mid: %v", err)
	}

	Expire(25)
	if len(fired) != 2 || fired[0] != "early" || fired[1] != "mid" {
		t.Fatalf("expected [early mid] to fire, got %v", fired)
	}
	if Pending() != 1 {
		t.Fatalf("expected late timer still pending, got %d", Pending())
	}
}

func TestIntervalTimerRearms(t *testing.T) {
	resetQueue(t)

	count := 0
	it := &Timer{Kind: Interval, Deadline: 10, Period: 10, Callback: func(*Timer) { count++ }}
	if err := Arm(it); err != nil {
		t.Fatalf("arm: %v", err)
	}

	Expire(10)
	Expire(20)
	Expire(30)

	if count != 3 {
		t.Fatalf("expected interval timer to fire 3 times, got %d", count)
	}
	if Pending() != 1 {
		t.Fatalf("expected interval timer to remain armed, got pending=%d", Pending())
	}
}

func TestArmRejectsZeroPeriodInterval(t *testing.T) {
	resetQueue(t)
	err := Arm(&Timer{Kind: Interval, Period: 0})
	if err == nil || err.Status != errZeroPeriod.Status {
		t.Fatalf("expected errZeroPeriod, got %v", err)
	}
}

func TestCancelRemovesTimer(t *testing.T) {
	resetQueue(t)

	fired := false
	tm := &Timer{Deadline: 5, Callback: func(*Timer) { fired = true }}
	if err := Arm(tm); err != nil {
		t.Fatalf("arm: %v", err)
	}
	Cancel(tm)
	Expire(100)
	if fired {
		t.Fatal("expected canceled timer not to fire")
	}
	if Pending() != 0 {
		t.Fatalf("expected empty queue after cancel+expire, got %d", Pending())
	}
}
