// Package dmgcore is the emulator shell: it owns the CPU, memory bus and
// PPU, drives them in lock-step one T-cycle at a time, and exposes the
// framebuffer and VBlank edge to a host. Grounded on go-jeebie's
// jeebie/core.go Emulator, adapted from its per-instruction macro-cycle
// loop (cpu.Tick() returning a cycle count, then driving gpu.Tick(cycles)
// and a cycle-counted timer update) into the per-T-cycle ordering
// spec.md §5 requires: CPU, then PPU, then timer, once per Tick call.
package dmgcore

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/marnix-hale/dmgcore/cpu"
	"github.com/marnix-hale/dmgcore/memory"
	"github.com/marnix-hale/dmgcore/video"
)

// TCyclesPerFrame is the fixed number of T-cycles in one 154-scanline
// frame (70224 = 456 * 154), per spec.md §4.3.
const TCyclesPerFrame = 70224

// FrameWidth and FrameHeight are the framebuffer dimensions, re-exported
// from the video package so hosts need not import it directly.
const (
	FrameWidth  = video.Width
	FrameHeight = video.Height
)

// Emulator is the root struct and entry point for running the emulation.
type Emulator struct {
	CPU *cpu.CPU
	PPU *video.PPU
	Bus *memory.Bus

	prevMode   memory.Mode
	vblankEdge bool
	frameCount uint64
}

// New creates an emulator around an already-constructed cartridge,
// wiring the boot-end hook to the CPU's post-boot state seeding. The
// CPU starts in its power-on state (PC 0x0000); callers that won't load
// a boot ROM should call CPU.SetPostBootState themselves, as
// NewFromFile does.
func New(cart *memory.Cartridge) *Emulator {
	bus := memory.NewBusWithCartridge(cart)
	c := cpu.New(bus)
	bus.SetBootEndHook(c.SetPostBootState)

	return &Emulator{
		CPU:      c,
		PPU:      video.NewPPU(bus),
		Bus:      bus,
		prevMode: memory.HBlank,
	}
}

// NewFromFile loads a ROM (and, optionally, a boot ROM) from disk and
// returns an emulator ready to run. An empty bootROMPath skips the boot
// ROM entirely and leaves the CPU in its post-boot state.
func NewFromFile(romPath, bootROMPath string) (*Emulator, error) {
	data, err := os.ReadFile(romPath)
	if err != nil {
		return nil, fmt.Errorf("reading rom: %w", err)
	}
	slog.Debug("loaded rom", "path", romPath, "size", len(data))

	e := New(memory.NewCartridgeFromData(data))

	if bootROMPath != "" {
		bootData, err := os.ReadFile(bootROMPath)
		if err != nil {
			return nil, fmt.Errorf("reading boot rom: %w", err)
		}
		e.Bus.LoadBootROM(bootData)
	} else {
		e.CPU.SetPostBootState()
	}

	return e, nil
}

// Tick advances the whole system by one T-cycle: CPU, then PPU, then
// timer, per spec.md §5's fixed ordering. It surfaces the first error
// encountered in that order and stops advancing once the CPU has
// faulted, per spec.md §7.
func (e *Emulator) Tick() error {
	if err := e.CPU.Err(); err != nil {
		return err
	}

	e.CPU.Tick()
	if err := e.CPU.Err(); err != nil {
		return err
	}

	e.PPU.Tick()
	mode := e.Bus.Mode()
	e.vblankEdge = mode == memory.VBlank && e.prevMode != memory.VBlank
	if e.vblankEdge {
		e.frameCount++
	}
	e.prevMode = mode

	e.Bus.Tick()
	return nil
}

// RunFrame advances the emulator until the PPU produces one VBlank
// edge, i.e. one full 70224 T-cycle frame while the display is enabled.
func (e *Emulator) RunFrame() error {
	for {
		if err := e.Tick(); err != nil {
			return err
		}
		if e.vblankEdge {
			return nil
		}
	}
}

// RunFrames runs n frames in sequence, stopping at the first error.
func (e *Emulator) RunFrames(n int) error {
	for i := 0; i < n; i++ {
		if err := e.RunFrame(); err != nil {
			return err
		}
		if e.frameCount%60 == 0 {
			slog.Debug("frame completed", "frame", e.frameCount, "pc", fmt.Sprintf("0x%04X", e.CPU.PC()))
		}
	}
	return nil
}

// FrameBuffer returns the PPU's live 160x144 buffer of 2-bit
// background-palette indices, per spec.md §3. The PPU writes into it as
// it draws, so it holds a whole completed frame at a VBlank edge (as
// when RunFrame returns); mid-frame it mixes rows of two frames.
func (e *Emulator) FrameBuffer() []byte { return e.PPU.FrameBuffer() }

// FrameCount returns the number of VBlank edges observed so far.
func (e *Emulator) FrameCount() uint64 { return e.frameCount }

// VBlankEdge reports whether the most recent Tick call crossed into
// VBlank, for hosts driving the emulator one T-cycle at a time.
func (e *Emulator) VBlankEdge() bool { return e.vblankEdge }

// PressKey and ReleaseKey forward joypad edge events to the bus.
func (e *Emulator) PressKey(key memory.JoypadKey)   { e.Bus.PressKey(key) }
func (e *Emulator) ReleaseKey(key memory.JoypadKey) { e.Bus.ReleaseKey(key) }

// ExternalRAM returns the cartridge's live battery-backed RAM buffer
// for host persistence, or nil if the cartridge declares none.
func (e *Emulator) ExternalRAM() []byte { return e.Bus.ExternalRAM() }

// LoadExternalRAM copies previously persisted cartridge RAM into the
// live backing buffer. It is a no-op if the cartridge declares none.
func (e *Emulator) LoadExternalRAM(data []byte) {
	ram := e.Bus.ExternalRAM()
	if ram == nil {
		return
	}
	copy(ram, data)
}
