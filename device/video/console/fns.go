package console

import (
	"gopheros/kernel/cpu"
	"gopheros/kernel/mm/vmm"
)

// mapRegionFn and portWriteByteFn are function-variable seams so tests can
// substitute a mock without requiring real hardware or page tables.
var (
	mapRegionFn     = vmm.MapRegion
	portWriteByteFn = cpu.PortWriteByte
)
