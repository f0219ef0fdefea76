// Package cpu implements the Sharp SM83 instruction set as a per-T-cycle
// micro-stepping state machine, per spec.md §3/§4.2. Each call to Tick
// advances the CPU by exactly one T-cycle; a machine cycle (4 T-cycles)
// issues at most one bus transaction, on its final T-cycle.
package cpu

import (
	"fmt"
	"log/slog"

	"github.com/marnix-hale/dmgcore/addr"
	"github.com/marnix-hale/dmgcore/bit"
	"github.com/marnix-hale/dmgcore/errs"
)

// Bus is the subset of the memory bus the CPU depends on. Accepting an
// interface here, rather than the concrete *memory.Bus, keeps the CPU
// testable against a bare array-backed fake. ReadChecked/WriteChecked
// are the paths the CPU actually issues transactions through, so that
// a structural InvalidMemoryAccess fault (spec.md §7) is reachable.
type Bus interface {
	Read(address uint16) byte
	Write(address uint16, value byte)
	ReadChecked(address uint16) (byte, error)
	WriteChecked(address uint16, value byte) error
	IE() byte
	IF() byte
	SetIF(value byte)
}

// mCycleFunc performs the bus transaction (if any) for one machine
// cycle. Functions are package-level closures built once at init, never
// allocated during Tick, satisfying the no-allocation invariant.
type mCycleFunc func(c *CPU)

// instrEntry describes one opcode: immediate is applied during the
// fetch machine cycle itself (covering every 1-mcycle instruction and
// the first effect of longer ones); rest holds the remaining whole
// machine cycles, each already sized and ordered to match hardware
// timing tables.
type instrEntry struct {
	immediate mCycleFunc
	rest      []mCycleFunc
}

// CPU is the Sharp SM83 core: eight 8-bit registers viewed as pairs,
// SP, PC, IME, and the micro-step scheduler. Grounded on go-jeebie's
// cpu/cpu.go and cpu/registers.go, restructured from macro-cycle
// per-instruction dispatch into the fetch/mcycle-program model spec.md
// §3 requires.
type CPU struct {
	r   registers
	bus Bus

	ime            bool
	imeEnableDelay int

	halted         bool
	haltBugPending bool
	stopped        bool

	tcycle  int
	step    int
	program []mCycleFunc

	// scratch8/scratch16 hold operand bytes between the machine cycles
	// of a multi-cycle instruction (e.g. the low byte of a 16-bit
	// immediate while the high byte is still being fetched).
	scratch8  byte
	scratch16 uint16

	err error
}

// New creates a CPU wired to bus, with registers and PC at their
// power-on state (0x0000); callers booting without a boot ROM should
// call SetPostBootState.
func New(bus Bus) *CPU {
	return &CPU{bus: bus}
}

// SetPostBootState seeds the canonical post-boot register values used
// both when skipping the boot ROM and when the BOOT register is
// written, per spec.md §4.1/§6.
func (c *CPU) SetPostBootState() {
	c.r.setAF(0x01B0)
	c.r.setBC(0x0013)
	c.r.setDE(0x00D8)
	c.r.setHL(0x014D)
	c.r.sp = 0xFFFE
	c.r.pc = 0x0100
	c.ime = true
}

// PC, SP and Registers expose CPU state for the emulator shell and for
// tests; there is no path back in other than through execution.
func (c *CPU) PC() uint16 { return c.r.pc }
func (c *CPU) SP() uint16 { return c.r.sp }
func (c *CPU) A() byte    { return c.r.a }
func (c *CPU) F() byte    { return c.r.f }
func (c *CPU) IME() bool  { return c.ime }
func (c *CPU) Halted() bool { return c.halted }

// Err returns the first unrecoverable error (illegal opcode or
// structural InvalidMemoryAccess fault) the CPU encountered, or nil.
// Once set it is sticky: the CPU does not continue executing past it.
func (c *CPU) Err() error { return c.err }

// Tick advances the CPU by one T-cycle.
func (c *CPU) Tick() {
	if c.err != nil {
		return
	}
	c.tcycle++
	if c.tcycle < 4 {
		return
	}
	c.tcycle = 0
	c.advance()
}

// read and write are the only paths by which opcode bodies touch the
// bus: both route through the checked accessors so a structural
// InvalidMemoryAccess fault (out-of-range ROM bank, external RAM on a
// cartridge that declares none) latches into Err() exactly like an
// illegal opcode, per spec.md §7.
func (c *CPU) read(address uint16) byte {
	v, err := c.bus.ReadChecked(address)
	if err != nil {
		c.latchBusErr(err)
	}
	return v
}

func (c *CPU) write(address uint16, value byte) {
	if err := c.bus.WriteChecked(address, value); err != nil {
		c.latchBusErr(err)
	}
}

// latchBusErr records the first structural fault a checked bus access
// reports, stamping it with the PC at fault (the bus itself has no PC
// to attach, so it leaves the field zero); later faults in the same
// instruction are dropped since c.err is already sticky.
func (c *CPU) latchBusErr(err error) {
	if c.err != nil {
		return
	}
	if e, ok := err.(*errs.Error); ok {
		e.PC = c.r.pc
	}
	c.err = err
}

func (c *CPU) advance() {
	if c.program == nil {
		c.fetch()
		return
	}
	step := c.program[c.step]
	step(c)
	c.step++
	if c.step >= len(c.program) {
		c.program = nil
		c.step = 0
	}
}

// pendingInterrupts returns the IE&IF bits, masked to the five
// implemented interrupt sources.
func (c *CPU) pendingInterrupts() byte {
	return c.bus.IE() & c.bus.IF() & 0x1F
}

func (c *CPU) fetch() {
	if c.imeEnableDelay > 0 {
		c.imeEnableDelay--
		if c.imeEnableDelay == 0 {
			c.ime = true
		}
	}

	pending := c.pendingInterrupts()
	if c.halted && pending != 0 {
		c.halted = false
	}

	if c.ime && pending != 0 {
		c.program = interruptDispatchProgram
		c.step = 0
		return
	}

	if c.halted {
		return
	}
	if c.stopped {
		// STOP is unspecified beyond advancing PC and halting progress;
		// nothing clears the flag once set, so no further opcode is
		// fetched (an enabled pending interrupt is still dispatched above).
		return
	}

	opcode := c.read(c.r.pc)
	if c.err != nil {
		return
	}
	if c.haltBugPending {
		c.haltBugPending = false
	} else {
		c.r.pc++
	}

	entry := opcodeTable[opcode]
	if entry.immediate == nil && entry.rest == nil {
		slog.Debug("illegal opcode encountered", "opcode", fmt.Sprintf("0x%02X", opcode), "pc", fmt.Sprintf("0x%04X", c.r.pc-1))
		c.err = errs.New(errs.IllegalOpcode, c.r.pc-1, "illegal opcode %#02x", opcode)
		return
	}

	c.program = entry.rest
	c.step = 0
	if entry.immediate != nil {
		entry.immediate(c)
	}
	if len(c.program) == 0 {
		c.program = nil
	}
}

// interruptDispatchProgram runs after the fetch call that detected a
// pending, enabled interrupt; together with that call's own idle cycle
// it totals the 5 machine cycles real hardware spends dispatching.
var interruptDispatchProgram = []mCycleFunc{
	idleMCycle,
	idleMCycle,
	func(c *CPU) {
		c.r.sp--
		c.write(c.r.sp, byte(c.r.pc>>8))
	},
	func(c *CPU) {
		c.r.sp--
		c.write(c.r.sp, byte(c.r.pc))

		bitIdx := lowestSetBit(c.pendingInterrupts())
		c.bus.SetIF(bit.Reset(bitIdx, c.bus.IF()))
		c.r.pc = addr.Vector(bitIdx)
		c.ime = false
	},
}

func lowestSetBit(v byte) uint8 {
	for i := uint8(0); i < 8; i++ {
		if v&(1<<i) != 0 {
			return i
		}
	}
	return 0
}

func idleMCycle(c *CPU) {}
