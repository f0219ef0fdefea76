package memory

import (
	"log/slog"

	"github.com/marnix-hale/dmgcore/addr"
	"github.com/marnix-hale/dmgcore/bit"
	"github.com/marnix-hale/dmgcore/errs"
)

// Mode mirrors the PPU's current STAT mode, needed here only to gate
// CPU-originated VRAM/OAM access per spec.md §4.1/§5.
type Mode uint8

const (
	HBlank Mode = iota
	VBlank
	OAMScan
	Drawing
)

const (
	vramSize = 0x2000
	wramSize = 0x2000
	oamSize  = 0xA0
	hramSize = 0x7F
)

// Bus is the sole address-decoding point for the emulator: boot ROM
// overlay, cartridge ROM/RAM through the attached mbc, VRAM, WRAM and
// its echo, OAM, I/O registers, HRAM and IE. Reads/writes issued by the
// CPU go through Read/Write and are gated by the current PPU mode for
// VRAM/OAM; the PPU itself is given direct, ungated accessors since it
// is not a bus client (spec.md §5). Grounded on go-jeebie's
// memory/mem.go MMU, restructured around this module's gating and
// structural-error requirements.
type Bus struct {
	cart *Cartridge
	mbc  mbc

	vram [vramSize]byte
	wram [wramSize]byte
	oam  [oamSize]byte
	hram [hramSize]byte

	bootROM     []byte
	bootEnabled bool
	onBootEnd   func()

	timer  *timer
	joypad *joypad

	ifReg byte
	ieReg byte

	lcdc        byte
	statIRQBits byte
	mode        Mode
	ly          byte
	lyc         byte
	scy, scx    byte
	wy, wx      byte
	bgp         byte
	obp0, obp1  byte

	sb, sc byte
	key1   byte
}

// NewBus creates a bus with no cartridge loaded, 0x8000 bytes of empty
// ROM and no boot ROM overlay.
func NewBus() *Bus {
	b := &Bus{cart: NewCartridge()}
	b.mbc = newMBC(b.cart)
	b.timer = newTimer(func() { b.RequestInterrupt(addr.Timer) })
	b.joypad = newJoypad(func() { b.RequestInterrupt(addr.Joypad) })
	return b
}

// NewBusWithCartridge creates a bus with cart already loaded and its
// matching bank controller attached.
func NewBusWithCartridge(cart *Cartridge) *Bus {
	b := NewBus()
	b.cart = cart
	b.mbc = newMBC(cart)
	return b
}

// LoadBootROM installs a 256-byte boot overlay mapped over 0x0000..0x00FF
// until the BOOT register is written, per spec.md §6.
func (b *Bus) LoadBootROM(data []byte) {
	b.bootROM = data
	b.bootEnabled = len(data) > 0
}

// SetBootEndHook registers the callback invoked when the BOOT register
// is written, used by the emulator shell to seed the CPU's canonical
// post-boot state (IE=0x01, IME=1), per spec.md §4.1.
func (b *Bus) SetBootEndHook(fn func()) { b.onBootEnd = fn }

// Cartridge returns the currently loaded cartridge.
func (b *Bus) Cartridge() *Cartridge { return b.cart }

// ExternalRAM exposes the cartridge RAM backing buffer for host
// persistence, or nil if the cartridge declares none.
func (b *Bus) ExternalRAM() []byte { return b.mbc.ExternalRAM() }

// Tick advances the timer by one T-cycle, per spec.md §4.5.
func (b *Bus) Tick() { b.timer.tick() }

// PressKey and ReleaseKey forward joypad edge events, per spec.md §4.6.
func (b *Bus) PressKey(key JoypadKey)   { b.joypad.press(key) }
func (b *Bus) ReleaseKey(key JoypadKey) { b.joypad.release(key) }

// RequestInterrupt sets the given bit of IF, per spec.md §4.4.
func (b *Bus) RequestInterrupt(i addr.Interrupt) {
	b.ifReg = bit.Set(interruptBit(i), b.ifReg)
}

func interruptBit(i addr.Interrupt) uint8 {
	for n := uint8(0); n < 5; n++ {
		if addr.Interrupt(1<<n) == i {
			return n
		}
	}
	return 0
}

// IE and IF report the interrupt-enable and interrupt-flag registers
// directly, for the CPU's dispatch check.
func (b *Bus) IE() byte { return b.ieReg }
func (b *Bus) IF() byte { return b.ifReg }

// SetIF lets the CPU clear a serviced interrupt's flag bit.
func (b *Bus) SetIF(value byte) { b.ifReg = value }

// PPU-facing accessors: ungated reads/writes of VRAM/OAM and the
// pixel-pipeline registers, used only by the video package. Per spec.md
// §5, the PPU does not go through the CPU's bus gating.

func (b *Bus) ReadVRAMDirect(address uint16) byte   { return b.vram[address-0x8000] }
func (b *Bus) WriteVRAMDirect(address uint16, v byte) { b.vram[address-0x8000] = v }
func (b *Bus) ReadOAMDirect(address uint16) byte    { return b.oam[address-addr.OAMStart] }
func (b *Bus) WriteOAMDirect(address uint16, v byte) { b.oam[address-addr.OAMStart] = v }

func (b *Bus) LCDC() byte { return b.lcdc }
func (b *Bus) SCY() byte  { return b.scy }
func (b *Bus) SCX() byte  { return b.scx }
func (b *Bus) WY() byte   { return b.wy }
func (b *Bus) WX() byte   { return b.wx }
func (b *Bus) BGP() byte  { return b.bgp }
func (b *Bus) OBP0() byte { return b.obp0 }
func (b *Bus) OBP1() byte { return b.obp1 }
func (b *Bus) LYC() byte  { return b.lyc }
func (b *Bus) LY() byte   { return b.ly }
func (b *Bus) Mode() Mode { return b.mode }

// SetLY and SetMode let the PPU publish its current scanline/mode onto
// the memory-mapped LY/STAT registers, and SetMode also governs the
// CPU-facing VRAM/OAM gate.
func (b *Bus) SetLY(v byte)     { b.ly = v }
func (b *Bus) SetMode(m Mode)   { b.mode = m }

// StatInterruptSources reports the STAT interrupt-enable bits (mode 0/1/2
// and LYC=LY) currently latched by the CPU, for the PPU to test before
// raising LCDSTAT.
func (b *Bus) StatInterruptSources() byte { return b.statIRQBits }

// Read performs a CPU-originated bus read, applying region decoding and
// the PPU-mode access gate over VRAM/OAM.
func (b *Bus) Read(address uint16) byte {
	switch {
	case address <= 0x7FFF:
		if b.bootEnabled && address <= 0x00FF {
			return b.bootROM[address]
		}
		if !b.mbc.ROMBankInRange(address) {
			slog.Warn("rom read out of range", "addr", address)
		}
		return b.mbc.ReadROM(address)
	case address <= 0x9FFF:
		if b.mode == Drawing {
			return 0xFF
		}
		return b.vram[address-0x8000]
	case address <= 0xBFFF:
		return b.mbc.ReadRAM(address)
	case address <= 0xDFFF:
		return b.wram[address-0xC000]
	case address <= 0xFDFF:
		return b.wram[address-0xE000]
	case address <= 0xFE9F:
		if b.mode == OAMScan || b.mode == Drawing {
			return 0xFF
		}
		return b.oam[address-addr.OAMStart]
	case address <= 0xFEFF:
		return 0x00
	case address == addr.IE:
		return b.ieReg
	case address >= 0xFF80:
		return b.hram[address-0xFF80]
	default:
		return b.readIO(address)
	}
}

// ReadChecked behaves like Read but additionally reports a structural
// access error (spec.md §7) for out-of-range ROM banks or external-RAM
// accesses on a cartridge that declares none — distinct from the
// ordinary, non-error 0xFF returned for PPU-mode or RAM-enable gating.
func (b *Bus) ReadChecked(address uint16) (byte, error) {
	switch {
	case address <= 0x7FFF && !(b.bootEnabled && address <= 0x00FF):
		if !b.mbc.ROMBankInRange(address) {
			return 0xFF, errs.New(errs.InvalidMemoryAccess, 0, "rom bank out of range at %#04x", address)
		}
	case address >= 0xA000 && address <= 0xBFFF:
		if !b.mbc.HasRAM() {
			return 0xFF, errs.New(errs.InvalidMemoryAccess, 0, "external ram access with no cartridge ram at %#04x", address)
		}
	}
	return b.Read(address), nil
}

// Write performs a CPU-originated bus write.
func (b *Bus) Write(address uint16, value byte) {
	switch {
	case address <= 0x7FFF:
		b.mbc.WriteROM(address, value)
	case address <= 0x9FFF:
		if b.mode != Drawing {
			b.vram[address-0x8000] = value
		}
	case address <= 0xBFFF:
		b.mbc.WriteRAM(address, value)
	case address <= 0xDFFF:
		b.wram[address-0xC000] = value
	case address <= 0xFDFF:
		b.wram[address-0xE000] = value
	case address <= 0xFE9F:
		if b.mode != OAMScan && b.mode != Drawing {
			b.oam[address-addr.OAMStart] = value
		}
	case address <= 0xFEFF:
		// unused region, writes dropped
	case address == addr.IE:
		b.ieReg = value
	case address >= 0xFF80:
		b.hram[address-0xFF80] = value
	default:
		b.writeIO(address, value)
	}
}

// WriteChecked mirrors ReadChecked's structural-error distinction for
// external-RAM writes on a RAM-less cartridge. Writes to 0x0000..0x7FFF
// are MBC register writes and never report an error.
func (b *Bus) WriteChecked(address uint16, value byte) error {
	if address >= 0xA000 && address <= 0xBFFF && !b.mbc.HasRAM() {
		return errs.New(errs.InvalidMemoryAccess, 0, "external ram write with no cartridge ram at %#04x", address)
	}
	b.Write(address, value)
	return nil
}

func (b *Bus) readIO(address uint16) byte {
	switch address {
	case addr.P1:
		return b.joypad.read()
	case addr.SB:
		return b.sb
	case addr.SC:
		return b.sc | 0x7E
	case addr.DIV, addr.TIMA, addr.TMA, addr.TAC:
		return b.timer.read(address)
	case addr.IF:
		return b.ifReg | 0xE0
	case addr.LCDC:
		return b.lcdc
	case addr.STAT:
		coincidence := byte(0)
		if b.ly == b.lyc {
			coincidence = 0x04
		}
		return 0x80 | (b.statIRQBits & 0x78) | coincidence | byte(b.mode&0x03)
	case addr.SCY:
		return b.scy
	case addr.SCX:
		return b.scx
	case addr.LY:
		return b.ly
	case addr.LYC:
		return b.lyc
	case addr.BGP:
		return b.bgp
	case addr.OBP0:
		return b.obp0
	case addr.OBP1:
		return b.obp1
	case addr.WY:
		return b.wy
	case addr.WX:
		return b.wx
	case addr.KEY1:
		return 0xFF
	case addr.BOOT:
		if b.bootEnabled {
			return 0x00
		}
		return 0x01
	default:
		return 0xFF
	}
}

func (b *Bus) writeIO(address uint16, value byte) {
	switch address {
	case addr.P1:
		b.joypad.write(value)
	case addr.SB:
		b.sb = value
	case addr.SC:
		b.sc = value
		if value&0x80 != 0 {
			b.ifReg = bit.Reset(3, b.ifReg)
		}
	case addr.DIV, addr.TIMA, addr.TMA, addr.TAC:
		b.timer.write(address, value)
	case addr.IF:
		b.ifReg = value & 0x1F
	case addr.LCDC:
		wasEnabled := bit.IsSet(7, b.lcdc)
		b.lcdc = value
		if wasEnabled && !bit.IsSet(7, value) {
			b.ly = 0
			b.mode = HBlank
		}
	case addr.STAT:
		b.statIRQBits = value & 0x78
	case addr.SCY:
		b.scy = value
	case addr.SCX:
		b.scx = value
	case addr.LY:
		// read-only on real hardware
	case addr.LYC:
		b.lyc = value
	case addr.DMA:
		b.runDMA(value)
	case addr.BGP:
		b.bgp = value
	case addr.OBP0:
		b.obp0 = value
	case addr.OBP1:
		b.obp1 = value
	case addr.WY:
		b.wy = value
	case addr.WX:
		b.wx = value
	case addr.KEY1:
		b.key1 = value
	case addr.BOOT:
		b.bootEnabled = false
		b.ieReg = 0x01
		if b.onBootEnd != nil {
			b.onBootEnd()
		}
	}
}

// runDMA performs the 160-byte OAM transfer atomically on the write,
// per spec.md §9's explicit atomic-DMA design decision. The source read
// bypasses the CPU gate exactly as the destination write does, since
// DMA hardware is not a bus client either.
func (b *Bus) runDMA(value byte) {
	source := uint16(value) << 8
	for i := uint16(0); i < 160; i++ {
		b.oam[i] = b.rawRead(source + i)
	}
}

// rawRead reads a byte ignoring the PPU-mode gate, used only by DMA.
func (b *Bus) rawRead(address uint16) byte {
	switch {
	case address <= 0x7FFF:
		if b.bootEnabled && address <= 0x00FF {
			return b.bootROM[address]
		}
		return b.mbc.ReadROM(address)
	case address <= 0x9FFF:
		return b.vram[address-0x8000]
	case address <= 0xBFFF:
		return b.mbc.ReadRAM(address)
	case address <= 0xDFFF:
		return b.wram[address-0xC000]
	case address <= 0xFDFF:
		return b.wram[address-0xE000]
	default:
		return b.Read(address)
	}
}
