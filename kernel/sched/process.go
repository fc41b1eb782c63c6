package sched

// KillOthers marks every thread in p other than self DIED, as if each had
// observed a delivered SIGKILL, and returns once all of them have reached
// StatusDied. It does not touch self — the caller is expected to exit its
// own thread separately once the address space is safe to reclaim.
//
// Real delivery (interrupting a blocked or running thread so it observes the
// kill) is arch/signal-layer work outside this package; this models the
// scheduler-visible half: "wait for each to observe
// DIED before reclaiming the address space".
func KillOthers(p *Process, self *Thread) {
	var victims []*Thread
	globalLock.Acquire()
	for _, t := range p.Threads {
		if t != self {
			victims = append(victims, t)
		}
	}
	globalLock.Release()

	for _, t := range victims {
		deliverKill(t)
	}
	for _, t := range victims {
		waitForDeath(t)
	}
}

// deliverKillFn is a seam: production code signals the target thread (e.g.
// via an IPI that makes it observe SIGKILL on its next dispatch); tests
// substitute a function that directly exits the thread.
var deliverKillFn = func(t *Thread) { ExitThread(t) }

func deliverKill(t *Thread) { deliverKillFn(t) }

// waitForDeathFn lets tests avoid actually busy-waiting.
var waitForDeathFn = func(t *Thread) {
	for t.Status != StatusDied {
	}
}

func waitForDeath(t *Thread) { waitForDeathFn(t) }

// KernelProcess is the adoptive parent ExitProcess reparents a dying
// process's children onto, mirroring OBOS_KernelProcess's role as the
// catch-all owner of orphaned processes. It is never itself exited.
var KernelProcess = &Process{ID: 0}

// ExitProcess implements a process's exit lifecycle: every child is
// reparented onto KernelProcess, every thread other than self is killed and
// waited for (self, if non-nil, is killed too), the process's address
// space ranges are freed, code is recorded as the exit status, and any
// thread blocked in WaitProcess is woken. self is nil when the caller is
// not itself one of p's threads, e.g. a driver or another process forcing
// p to exit.
//
// This tree has no handle-table abstraction to close on exit (see vfs's
// fd.Table instead, which is owned and cleaned up by whatever process
// layer sits above this package).
func ExitProcess(p *Process, self *Thread, code int32) {
	globalLock.Acquire()
	for _, child := range p.Children {
		child.Parent = KernelProcess
		KernelProcess.Children = append(KernelProcess.Children, child)
	}
	p.Children = nil
	if p.Parent != nil {
		for i, sib := range p.Parent.Children {
			if sib == p {
				p.Parent.Children = append(p.Parent.Children[:i], p.Parent.Children[i+1:]...)
				break
			}
		}
	}
	globalLock.Release()

	KillOthers(p, self)
	if self != nil {
		deliverKill(self)
		waitForDeath(self)
	}

	if p.AddrSpace != nil {
		for _, base := range p.AddrSpace.Ranges() {
			_ = p.AddrSpace.VirtualFree(base)
		}
	}

	globalLock.Acquire()
	p.exitCode = code
	p.exited = true
	waiters := p.waiters
	p.waiters = nil
	globalLock.Release()

	for _, ch := range waiters {
		close(ch)
	}
}

// waitForExitFn lets tests avoid actually blocking on a channel receive.
var waitForExitFn = func(ch chan struct{}) { <-ch }

// encodeExitStatus packs code into the low word of a wait(2)-style status
// value: the exit code in both the low byte and bits 8-15, matching
// spec.md's S5 scenario ("exit code 42 | (42<<8) in the low word of
// status"). This tree has no signal-delivery path into WaitProcess yet
// (ExitProcess is the only producer of a terminal status), so the high
// byte/WIFSIGNALED half of the real wait(2) encoding has nothing to carry
// and is left unset rather than invented.
func encodeExitStatus(code int32) int32 {
	b := code & 0xff
	return b | (b << 8)
}

// WaitProcess blocks until p has exited (returning immediately if it
// already has) and returns its exit status, encoded the way wait(2) packs
// it: encodeExitStatus(code), not the bare code.
func WaitProcess(p *Process) int32 {
	globalLock.Acquire()
	if p.exited {
		code := p.exitCode
		globalLock.Release()
		return encodeExitStatus(code)
	}
	ch := make(chan struct{})
	p.waiters = append(p.waiters, ch)
	globalLock.Release()

	waitForExitFn(ch)

	globalLock.Acquire()
	defer globalLock.Release()
	return encodeExitStatus(p.exitCode)
}
