package irq

import (
	"gopheros/kernel"
	"testing"
)

func testEngine() *Engine {
	return NewEngine(map[Level]VectorNum{
		Dispatch: 0x20,
		GPE:      0x60,
	})
}

func TestRegisterByIRQLSharesWhenAllowed(t *testing.T) {
	e := testEngine()

	a := &Line{Name: "a", ReqIRQL: Dispatch, AllowSharing: true}
	b := &Line{Name: "b", ReqIRQL: Dispatch, AllowSharing: true}

	if err := e.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := e.Register(b); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if a.Vector() != b.Vector() {
		t.Fatalf("expected a and b to share a vector, got %#x and %#x", a.Vector(), b.Vector())
	}
}

func TestRegisterByIRQLWithoutSharingGetsDistinctVectors(t *testing.T) {
	e := testEngine()

	a := &Line{Name: "a", ReqIRQL: Dispatch}
	b := &Line{Name: "b", ReqIRQL: Dispatch}

	if err := e.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := e.Register(b); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if a.Vector() == b.Vector() {
		t.Fatal("expected distinct vectors when sharing is not requested")
	}
}

// TestChosenVectorSharingRejected exercises vector-sharing rejection: a
// non-forced attempt to register a second IRQ on a non-sharing, chosen
// vector must fail with StatusInUse.
func TestChosenVectorSharingRejected(t *testing.T) {
	e := testEngine()

	a := &Line{Name: "a", ReqIRQL: Dispatch, RequestedVector: 0x40}
	if err := e.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}

	b := &Line{Name: "b", ReqIRQL: Dispatch, RequestedVector: 0x40}
	err := e.Register(b)
	if err == nil {
		t.Fatal("expected second chosen registration to fail")
	}
	if err.Status != errVectorInUse.Status {
		t.Fatalf("expected StatusInUse, got %v", err.Status)
	}
}

func TestForcedMigrationMovesNonChosenLine(t *testing.T) {
	e := testEngine()

	var movedTo VectorNum
	// existing is registered by IRQL (no RequestedVector), so it is not
	// chosen and lands on the first Dispatch vector, 0x20.
	existing := &Line{
		Name:    "existing",
		ReqIRQL: Dispatch,
		MoveCB: func(line *Line, oldVec, newVec VectorNum) *kernel.Error {
			movedTo = newVec
			return nil
		},
	}
	if err := e.Register(existing); err != nil {
		t.Fatalf("register existing: %v", err)
	}

	forcer := &Line{Name: "forcer", ReqIRQL: Dispatch, RequestedVector: 0x20, Force: true}
	if err := e.Register(forcer); err != nil {
		t.Fatalf("register forcer: %v", err)
	}

	if forcer.Vector() != 0x20 {
		t.Fatalf("expected forcer to own vector 0x20, got %#x", forcer.Vector())
	}
	if movedTo == 0 || movedTo == 0x20 {
		t.Fatalf("expected existing line to be relocated to a new vector, got %#x", movedTo)
	}
	if existing.Vector() != movedTo {
		t.Fatalf("expected existing line's tracked vector to be updated to %#x, got %#x", movedTo, existing.Vector())
	}
}
