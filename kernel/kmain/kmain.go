// Package kmain assembles the kernel's boot-time initialization sequence:
// hardware detection, the physical and virtual memory managers, the Go
// runtime shim, the IRQ vector engine and the tick-driven timer queue.
package kmain

import (
	"gopheros/kernel"
	"gopheros/kernel/cpu"
	"gopheros/kernel/goruntime"
	"gopheros/kernel/hal"
	"gopheros/kernel/hal/multiboot"
	"gopheros/kernel/irq"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mm/pmm"
	"gopheros/kernel/mm/vmm"
	"gopheros/kernel/timer"
)

// kernelVMABase is the virtual address the kernel's ELF sections are linked
// against. The bootloader identity-maps the kernel low but the link-time
// addresses sit in the canonical higher half; vmm.Init subtracts this
// offset from every kernel section's virtual address to recover its
// physical frame number.
const kernelVMABase = 0xffffffff80000000

// timerVectorBase is the first CPU interrupt vector reserved for Timer-IRQL
// lines. Vectors below it are left for the architecture's exception and
// IPI ranges.
const timerVectorBase irq.VectorNum = 0x40

// Engine is the IRQ vector engine wired up during Kmain. It is exported so
// code running after Kmain's initialization can register lines against it;
// it is still nil while hal.DetectHardware runs.
var Engine *irq.Engine

// Kmain is the only Go symbol visible to the rt0 initialization code. It is
// invoked after rt0 has set up the GDT and a minimal g0 allowing Go code to
// run on the 4K stack the assembly stub allocated.
//
// rt0 passes the physical address of the multiboot info payload supplied by
// the bootloader along with the physical start/end addresses of the loaded
// kernel image.
//
// Kmain is not expected to return; if it does, rt0 halts the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)
	hal.DetectHardware()

	var err *kernel.Error
	if err = pmm.Init(kernelStart, kernelEnd); err != nil {
		kfmt.Panic(err)
	} else if err = vmm.Init(kernelVMABase); err != nil {
		kfmt.Panic(err)
	} else if err = goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	Engine = irq.NewEngine(map[irq.Level]irq.VectorNum{
		irq.Timer: timerVectorBase,
	})

	if err = Engine.Register(&irq.Line{
		Name:         "timer-dpc",
		ReqIRQL:      irq.Timer,
		AllowSharing: false,
		Checker:      func(*irq.Line) bool { return true },
		Handler:      func(*irq.Regs, *irq.Frame) { timer.Expire(timer.Now()) },
	}); err != nil {
		kfmt.Panic(err)
	}

	kfmt.Printf("kernel initialized\n")

	// Scheduling is driven entirely by the timer DPC and interrupt
	// handlers registered above; idle the bootstrap CPU until one fires.
	for {
		cpu.Halt()
	}
}
