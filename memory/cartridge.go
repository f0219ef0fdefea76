package memory

import "log/slog"

// Header offsets, per spec.md §6.
const (
	titleAddress         = 0x0134
	titleLength          = 11
	cartridgeTypeAddress = 0x0147
	romSizeAddress       = 0x0148
	ramSizeAddress       = 0x0149
	headerChecksumAddr   = 0x014D
)

// MBCType identifies the cartridge's banking hardware. Only NoMBC and
// MBC1 are implemented; spec.md explicitly excludes MBC2/3/5.
type MBCType int

const (
	NoMBC MBCType = iota
	MBC1
	MBC1Unsupported // any cartridge type byte other than 0x00-0x03; banked as MBC1
)

func (t MBCType) String() string {
	switch t {
	case NoMBC:
		return "none"
	case MBC1:
		return "mbc1"
	case MBC1Unsupported:
		return "mbc1-unsupported"
	default:
		return "unknown"
	}
}

// Cartridge wraps the raw ROM image and the header fields this core
// needs to pick an MBC and size its RAM, grounded on go-jeebie's
// cartridge.go header parsing.
type Cartridge struct {
	data           []byte
	title          string
	mbcType        MBCType
	romBanks       int
	ramBanks       int
	hasBattery     bool
	headerChecksum byte
}

// romSizeBanks maps the ROM-size header code to a bank count: 2^(n+1).
func romSizeBanks(code byte) int {
	if code > 8 {
		return 2
	}
	return 2 << code
}

// ramSizeBanks maps the RAM-size header code to an 8 KiB bank count,
// per spec.md §6's {0:0, 1:1, 2:1, 3:4, 4:16, 5:8} table.
func ramSizeBanks(code byte) int {
	switch code {
	case 0:
		return 0
	case 1, 2:
		return 1
	case 3:
		return 4
	case 4:
		return 16
	case 5:
		return 8
	default:
		return 0
	}
}

// cartridgeTypeInfo maps the cartridge-type header byte to an MBC kind
// and whether the cartridge carries a battery for RAM persistence.
func cartridgeTypeInfo(code byte) (MBCType, bool) {
	switch code {
	case 0x00:
		return NoMBC, false
	case 0x01, 0x02:
		return MBC1, false
	case 0x03:
		return MBC1, true
	default:
		return MBC1Unsupported, false
	}
}

// NewCartridge creates an empty cartridge, useful for tests and as the
// bus's default before a ROM is loaded.
func NewCartridge() *Cartridge {
	return &Cartridge{data: make([]byte, 0x8000), mbcType: NoMBC, romBanks: 2}
}

// NewCartridgeFromData parses a raw ROM image, reading the header at
// 0x0100..0x014F as described in spec.md §6. The caller must supply at
// least 0x0150 bytes.
func NewCartridgeFromData(data []byte) *Cartridge {
	c := &Cartridge{data: data}

	end := titleAddress + titleLength
	if end <= len(data) {
		c.title = trimNulls(data[titleAddress:end])
	}
	if cartridgeTypeAddress < len(data) {
		c.mbcType, c.hasBattery = cartridgeTypeInfo(data[cartridgeTypeAddress])
	}
	if romSizeAddress < len(data) {
		c.romBanks = romSizeBanks(data[romSizeAddress])
	}
	if ramSizeAddress < len(data) {
		c.ramBanks = ramSizeBanks(data[ramSizeAddress])
	}
	if headerChecksumAddr < len(data) {
		c.headerChecksum = data[headerChecksumAddr]
	}

	slog.Debug("cartridge loaded", "title", c.title, "mbc", c.mbcType,
		"rom_banks", c.romBanks, "ram_banks", c.ramBanks, "battery", c.hasBattery)

	return c
}

func trimNulls(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Title returns the 11-byte cartridge title field, trimmed at the
// first NUL.
func (c *Cartridge) Title() string { return c.title }

// MBCType reports which bank-switching hardware the cartridge declares.
func (c *Cartridge) MBCType() MBCType { return c.mbcType }

// ROMBanks reports the number of 16 KiB ROM banks the header declares.
func (c *Cartridge) ROMBanks() int { return c.romBanks }

// RAMBanks reports the number of 8 KiB external RAM banks the header
// declares.
func (c *Cartridge) RAMBanks() int { return c.ramBanks }

// HasBattery reports whether the cartridge type declares battery-backed
// RAM, i.e. whether its RAM contents are worth persisting.
func (c *Cartridge) HasBattery() bool { return c.hasBattery }

// Data returns the raw ROM bytes backing the cartridge.
func (c *Cartridge) Data() []byte { return c.data }
