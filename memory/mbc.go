package memory

import "log/slog"

// mbc is the interface every bank-controller implementation satisfies.
// It owns no bank-pointer graph: each implementation holds a flat ROM
// slice (backed by the cartridge's own buffer) and, if applicable, a
// flat RAM slice, indexing into them directly rather than through a
// table of owning pointers.
type mbc interface {
	ReadROM(address uint16) byte
	WriteROM(address uint16, value byte)
	ReadRAM(address uint16) byte
	WriteRAM(address uint16, value byte)
	// ExternalRAM exposes the raw cartridge-RAM backing buffer for host
	// persistence, or nil if the cartridge has none.
	ExternalRAM() []byte
	// HasRAM reports whether the cartridge declares any external RAM at
	// all, independent of whether it is currently latch-enabled.
	HasRAM() bool
	// ROMBankInRange reports whether address, as currently banked,
	// resolves inside the physical ROM image.
	ROMBankInRange(address uint16) bool
}

// noMBC backs 32 KiB-or-smaller cartridges with no bank switching and
// no external RAM.
type noMBC struct {
	rom []byte
}

func newNoMBC(rom []byte) *noMBC { return &noMBC{rom: rom} }

func (m *noMBC) ReadROM(address uint16) byte {
	if int(address) >= len(m.rom) {
		return 0xFF
	}
	return m.rom[address]
}
func (m *noMBC) WriteROM(address uint16, value byte) {}
func (m *noMBC) ReadRAM(address uint16) byte         { return 0xFF }
func (m *noMBC) WriteRAM(address uint16, value byte) {}
func (m *noMBC) HasRAM() bool                        { return false }

func (m *noMBC) ROMBankInRange(address uint16) bool {
	return int(address) < len(m.rom)
}

// mbc1 implements the banking scheme in spec.md §3/§4.1: a 5-bit ROM
// bank selector, a 2-bit register shared between the ROM-bank high bits
// (mode 0) and the RAM bank (mode 1), a mode flag, and a RAM-enable
// latch. Grounded directly on go-jeebie's memory/mbc.go MBC1.
type mbc1 struct {
	rom []byte
	ram []byte

	romBankLow  uint8 // 5 bits, from 0x2000..0x3FFF
	upperBits   uint8 // 2 bits, from 0x4000..0x5FFF
	mode        uint8 // 0 = ROM banking, 1 = RAM banking
	ramEnabled  bool
}

func newMBC1(rom []byte, ramBanks int) *mbc1 {
	return &mbc1{
		rom:        rom,
		ram:        make([]byte, ramBanks*0x2000),
		romBankLow: 1,
	}
}

// romBank computes the 9-bit(ish) bank visible to ROM reads, applying
// the spec.md invariant that a low-5-bits value of 0 mirrors bank 1.
func (m *mbc1) romBank() int {
	low := m.romBankLow
	if low == 0 {
		low = 1
	}
	bank := int(low)
	if m.mode == 0 {
		bank |= int(m.upperBits) << 5
	}
	return bank
}

func (m *mbc1) ramBank() int {
	if m.mode == 1 {
		return int(m.upperBits)
	}
	return 0
}

func (m *mbc1) ReadROM(address uint16) byte {
	if address < 0x4000 {
		if int(address) >= len(m.rom) {
			return 0xFF
		}
		return m.rom[address]
	}
	offset := m.romBank()*0x4000 + int(address-0x4000)
	if offset >= len(m.rom) {
		if len(m.rom) == 0 {
			return 0xFF
		}
		offset %= len(m.rom)
	}
	return m.rom[offset]
}

func (m *mbc1) WriteROM(address uint16, value byte) {
	switch {
	case address <= 0x1FFF:
		m.ramEnabled = value&0x0F == 0x0A
	case address <= 0x3FFF:
		bank := value & 0x1F
		if bank == 0 {
			bank = 1
		}
		m.romBankLow = bank
		slog.Debug("MBC1 ROM bank selected", "bank", m.romBank())
	case address <= 0x5FFF:
		m.upperBits = value & 0x03
		slog.Debug("MBC1 upper bank bits set", "bits", m.upperBits)
	case address <= 0x7FFF:
		m.mode = value & 0x01
		if m.mode == 1 {
			m.romBankLow &= 0x1F
		}
		slog.Debug("MBC1 banking mode set", "mode", m.mode)
	}
}

func (m *mbc1) ReadRAM(address uint16) byte {
	if !m.ramEnabled || len(m.ram) == 0 {
		return 0xFF
	}
	offset := m.ramBank()*0x2000 + int(address-0xA000)
	offset %= len(m.ram)
	return m.ram[offset]
}

func (m *mbc1) WriteRAM(address uint16, value byte) {
	if !m.ramEnabled || len(m.ram) == 0 {
		return
	}
	offset := m.ramBank()*0x2000 + int(address-0xA000)
	offset %= len(m.ram)
	m.ram[offset] = value
}

// ExternalRAM exposes the raw backing buffer for host persistence, per
// spec.md §6 "Persisted state".
func (m *mbc1) ExternalRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	return m.ram
}

func (m *mbc1) HasRAM() bool { return len(m.ram) > 0 }

// ROMBankInRange reports whether address, under the currently selected
// bank, resolves inside the physical ROM image. Real cartridges are
// always sized to a power-of-two multiple of the bank size, so the only
// way this can fail is an empty ROM.
func (m *mbc1) ROMBankInRange(address uint16) bool {
	if len(m.rom) == 0 {
		return false
	}
	if address < 0x4000 {
		return int(address) < len(m.rom)
	}
	return true
}

func (m *noMBC) ExternalRAM() []byte { return nil }

func newMBC(cart *Cartridge) mbc {
	switch cart.MBCType() {
	case MBC1, MBC1Unsupported:
		return newMBC1(cart.Data(), cart.RAMBanks())
	default:
		return newNoMBC(cart.Data())
	}
}
