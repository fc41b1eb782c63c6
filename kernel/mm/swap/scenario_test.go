package swap

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
	"testing"

	check "gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type ScenarioSuite struct{}

var _ = check.Suite(&ScenarioSuite{})

// TestS3SwapRoundTrip fills a page with 0xAB, reserves a swap slot for it,
// marks it dirty and flushes it (moving it to the standby list), then
// drops it from the standby list to force a HARD fault on swap-in and
// checks the read-back bytes.
func (s *ScenarioSuite) TestS3SwapRoundTrip(c *check.C) {
	defer mm.SetFrameAllocator(nil)
	defer resetState()
	resetState()

	src := make([]byte, mm.PageSize)
	for i := range src {
		src[i] = 0xab
	}
	dst := make([]byte, mm.PageSize)
	backingStore := make([]byte, mm.PageSize)

	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) { return frameFor(backingStore), nil })

	p := NewRAMProvider()
	Init(p)

	id, err := p.Reserve(false)
	c.Assert(err, check.IsNil)

	alloc := &Allocation{ID: id, Provider: p, resident: frameFor(src), dirty: false}
	allocations[id] = alloc

	c.Assert(MarkDirty(id), check.IsNil)
	c.Check(alloc.dirty, check.Equals, true)
	// mark_dirty is idempotent: calling it again changes nothing.
	c.Assert(MarkDirty(id), check.IsNil)
	c.Check(len(dirty), check.Equals, 1)

	Flush(FlushAnon)
	c.Check(alloc.dirty, check.Equals, false)
	c.Check(len(dirty), check.Equals, 0)
	c.Check(len(standby), check.Equals, 1)

	// Drop the resident copy so swapIn below must take the HARD path and
	// read the contents back from the provider rather than just remapping
	// the still-resident frame.
	alloc.resident = mm.InvalidFrame

	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) {
		return frameFor(dst), nil
	})

	frame, soft, err := swapIn(id, 0)
	c.Assert(err, check.IsNil)
	c.Check(soft, check.Equals, false)
	c.Check(frame, check.Equals, frameFor(dst))
	for i, b := range dst {
		if b != 0xab {
			c.Fatalf("expected read-back byte %d to be 0xab; got %#x", i, b)
		}
	}
}

// TestMarkStandbyIdempotent exercises testable property 7's counterpart:
// mark_standby on an already-clean allocation is a no-op.
func (s *ScenarioSuite) TestMarkStandbyIdempotent(c *check.C) {
	defer resetState()
	resetState()

	alloc := &Allocation{ID: 9, dirty: false}
	allocations[9] = alloc

	c.Assert(MarkStandby(9), check.IsNil)
	c.Check(len(standby), check.Equals, 0)
	c.Check(len(dirty), check.Equals, 0)

	c.Assert(MarkDirty(9), check.IsNil)
	c.Check(len(dirty), check.Equals, 1)

	c.Assert(MarkStandby(9), check.IsNil)
	c.Check(len(dirty), check.Equals, 0)
	c.Check(len(standby), check.Equals, 1)
	// Idempotent once already on the standby list.
	c.Assert(MarkStandby(9), check.IsNil)
	c.Check(len(standby), check.Equals, 1)
}
