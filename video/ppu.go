// Package video implements the pixel pipeline: a per-T-cycle PPU state
// machine covering OAM scan, the background/window fetcher and FIFO
// shifter, sprite mixing, and the framebuffer, per spec.md §4.3. This
// replaces the teacher's whole-scanline-at-once GPU.Tick(cycles int)
// (go-jeebie's video/gpu.go) with a true per-tick fetcher/FIFO model,
// since the spec requires sub-scanline-visible timing (mid-line STAT
// transitions, mid-line window entry).
package video

import (
	"log/slog"

	"github.com/marnix-hale/dmgcore/addr"
	"github.com/marnix-hale/dmgcore/memory"
)

// Width and Height are the DMG's fixed framebuffer dimensions.
const (
	Width  = 160
	Height = 144
)

const (
	oamScanCycles   = 80
	scanlineCycles  = 456
	firstVBlankLine = 144
	lastLine        = 153
)

// Bus is the subset of memory.Bus the PPU needs: direct, ungated VRAM/OAM
// reads and the memory-mapped register views, per spec.md §5's "the PPU
// is not a bus client" rule.
type Bus interface {
	LCDC() byte
	SCY() byte
	SCX() byte
	WY() byte
	WX() byte
	BGP() byte
	OBP0() byte
	OBP1() byte
	LYC() byte
	SetLY(byte)
	SetMode(memory.Mode)
	StatInterruptSources() byte
	RequestInterrupt(addr.Interrupt)
	ReadVRAMDirect(address uint16) byte
	ReadOAMDirect(address uint16) byte
}

type fetchStep int

const (
	stepTile fetchStep = iota
	stepDataLow
	stepDataHigh
	stepSleep
	stepPush
)

// fifo is the background/window pixel queue: at most 8 2-bit color
// indices, backed by a fixed array so no push ever allocates.
type fifo struct {
	buf   [8]byte
	count int
}

func (f *fifo) empty() bool { return f.count == 0 }

func (f *fifo) push8(pixels [8]byte) {
	f.buf = pixels
	f.count = 8
}

func (f *fifo) pop() byte {
	v := f.buf[0]
	for i := 0; i < 7; i++ {
		f.buf[i] = f.buf[i+1]
	}
	f.count--
	return v
}

// activeSprite is one entry of the size-10 OAM-scan active list, sorted
// by X ascending (ties broken by OAM index via stable insertion).
type activeSprite struct {
	index int
	x     int
}

// PPU renders one pixel at a time via OAM scan, then the fetcher/FIFO
// pipeline during Drawing, publishing LY/mode back onto the bus as it
// goes. Grounded on go-jeebie's video/gpu.go for the mode-cycle shape
// and STAT/LYC interrupt triggers, restructured per spec.md §4.3.
type PPU struct {
	bus Bus

	lcdWasEnabled bool
	mode          memory.Mode
	line          int
	dot           int

	candidates []int
	active     []activeSprite

	step      fetchStep
	stepPhase int
	fetchX    int
	outputX   int

	discardDone bool

	windowLine          int
	windowActive        bool
	windowUsedThisLine  bool

	tileIndex byte
	lo, hi    byte

	bg fifo

	framebuffer [Width * Height]byte
}

// NewPPU creates a PPU wired to bus. It starts in the forced-disabled
// resting state (mode HBlank, LY 0) and begins its first frame the
// first time it observes LCDC bit 7 set, per spec.md §4.3.
func NewPPU(bus Bus) *PPU {
	return &PPU{
		bus:        bus,
		mode:       memory.HBlank,
		candidates: make([]int, 0, 40),
		active:     make([]activeSprite, 0, 10),
	}
}

// FrameBuffer returns the 160x144 buffer of 2-bit background-palette
// indices, per spec.md §3/§6.
func (p *PPU) FrameBuffer() []byte { return p.framebuffer[:] }

// Tick advances the PPU by one T-cycle.
func (p *PPU) Tick() {
	enabled := p.bus.LCDC()&0x80 != 0
	if !enabled {
		p.handleDisabled()
		p.lcdWasEnabled = false
		return
	}
	if !p.lcdWasEnabled {
		p.line = 0
		p.bus.SetLY(0)
		p.windowLine = 0
		p.enterOAMScan()
	}
	p.lcdWasEnabled = true

	switch p.mode {
	case memory.OAMScan:
		p.tickOAMScan()
	case memory.Drawing:
		p.tickDrawing()
	case memory.HBlank:
		p.tickHBlank()
	case memory.VBlank:
		p.tickVBlank()
	}
}

func (p *PPU) handleDisabled() {
	if p.mode == memory.HBlank && p.line == 0 && p.dot == 0 {
		return
	}
	slog.Debug("PPU disabled", "mode", "lcd_off")
	p.mode = memory.HBlank
	p.bus.SetMode(memory.HBlank)
	p.line = 0
	p.bus.SetLY(0)
	p.dot = 0
	p.windowLine = 0
}

// --- OAM scan (80 T-cycles) ---

func (p *PPU) enterOAMScan() {
	p.mode = memory.OAMScan
	p.bus.SetMode(memory.OAMScan)
	slog.Debug("PPU mode enabled", "mode", "oam_scan", "line", p.line)
	p.dot = 0
	p.candidates = p.candidates[:0]
	p.active = p.active[:0]
	if p.bus.StatInterruptSources()&0x20 != 0 {
		p.bus.RequestInterrupt(addr.LCDSTAT)
	}
}

func (p *PPU) tickOAMScan() {
	if p.dot < 40 {
		p.scanCandidate(p.dot)
	} else {
		p.insertCandidate(p.dot - 40)
	}
	p.dot++
	if p.dot == oamScanCycles {
		p.enterDrawing()
	}
}

func (p *PPU) spriteHeight() int {
	if p.bus.LCDC()&0x04 != 0 {
		return 16
	}
	return 8
}

func (p *PPU) scanCandidate(index int) {
	height := p.spriteHeight()
	y := int(p.bus.ReadOAMDirect(addr.OAMStart+uint16(index*4))) - 16
	if p.line >= y && p.line < y+height {
		p.candidates = append(p.candidates, index)
	}
}

func (p *PPU) insertCandidate(slot int) {
	if slot >= len(p.candidates) || len(p.active) >= 10 {
		return
	}
	index := p.candidates[slot]
	x := int(p.bus.ReadOAMDirect(addr.OAMStart+uint16(index*4+1))) - 8

	insertAt := len(p.active)
	for j, e := range p.active {
		if e.x > x {
			insertAt = j
			break
		}
	}
	p.active = append(p.active, activeSprite{})
	copy(p.active[insertAt+1:], p.active[insertAt:len(p.active)-1])
	p.active[insertAt] = activeSprite{index: index, x: x}
}

// --- Drawing (variable length) ---

func (p *PPU) enterDrawing() {
	p.mode = memory.Drawing
	p.bus.SetMode(memory.Drawing)
	slog.Debug("PPU mode enabled", "mode", "drawing", "line", p.line)
	p.step = stepTile
	p.stepPhase = 0
	p.fetchX = 0
	p.outputX = 0
	p.discardDone = false
	p.bg.count = 0
	p.windowActive = false
	p.windowUsedThisLine = false
}

func (p *PPU) tickDrawing() {
	p.checkWindowTrigger()
	p.shiftFIFO()
	p.stepFetcher()
	p.dot++
	if p.outputX >= Width {
		p.enterHBlank()
	}
}

func (p *PPU) checkWindowTrigger() {
	if p.windowActive {
		return
	}
	if p.bus.LCDC()&0x20 == 0 {
		return
	}
	if p.line < int(p.bus.WY()) {
		return
	}
	trigger := int(p.bus.WX()) - 7
	if trigger < 0 {
		trigger = 0
	}
	if p.outputX != trigger {
		return
	}
	p.windowActive = true
	p.windowUsedThisLine = true
	p.step = stepTile
	p.stepPhase = 0
	p.fetchX = 0
	p.bg.count = 0
}

func (p *PPU) stepFetcher() {
	if p.bus.LCDC()&0x01 == 0 {
		p.step = stepTile
		p.stepPhase = 0
		if p.bg.empty() {
			p.bg.push8([8]byte{})
			p.fetchX += 8
		}
		return
	}

	switch p.step {
	case stepTile:
		if p.stepPhase == 0 {
			p.stepPhase = 1
			return
		}
		p.fetchTile()
		p.stepPhase = 0
		p.step = stepDataLow
	case stepDataLow:
		if p.stepPhase == 0 {
			p.stepPhase = 1
			return
		}
		p.lo = p.bus.ReadVRAMDirect(p.tileDataAddr())
		p.stepPhase = 0
		p.step = stepDataHigh
	case stepDataHigh:
		if p.stepPhase == 0 {
			p.stepPhase = 1
			return
		}
		p.hi = p.bus.ReadVRAMDirect(p.tileDataAddr() + 1)
		p.stepPhase = 0
		p.step = stepSleep
	case stepSleep:
		if p.stepPhase == 0 {
			p.stepPhase = 1
			return
		}
		p.stepPhase = 0
		p.step = stepPush
	case stepPush:
		if !p.bg.empty() {
			return
		}
		p.pushPixels()
		p.step = stepTile
	}
}

func (p *PPU) fetchTile() {
	lcdc := p.bus.LCDC()
	if p.windowActive {
		base := addr.TileMap0
		if lcdc&0x40 != 0 {
			base = addr.TileMap1
		}
		col := (p.fetchX / 8) & 0x1F
		row := (p.windowLine / 8) & 0x1F
		p.tileIndex = p.bus.ReadVRAMDirect(base + uint16(row*32+col))
		return
	}

	base := addr.TileMap0
	if lcdc&0x08 != 0 {
		base = addr.TileMap1
	}
	scx, scy := int(p.bus.SCX()), int(p.bus.SCY())
	col := ((p.fetchX + scx) / 8) & 0x1F
	row := ((p.line + scy) & 0xFF) / 8
	p.tileIndex = p.bus.ReadVRAMDirect(base + uint16(row*32+col))
}

func (p *PPU) tileDataAddr() uint16 {
	row := 0
	if p.windowActive {
		row = p.windowLine % 8
	} else {
		row = (p.line + int(p.bus.SCY())) % 8
	}

	if p.bus.LCDC()&0x10 != 0 {
		return addr.TileData0 + uint16(int(p.tileIndex)*16) + uint16(row*2)
	}
	return uint16(int(addr.TileData1) + int(int8(p.tileIndex))*16 + row*2)
}

func (p *PPU) pushPixels() {
	var pixels [8]byte
	for i := 0; i < 8; i++ {
		bitIdx := uint(7 - i)
		var v byte
		if p.lo&(1<<bitIdx) != 0 {
			v |= 1
		}
		if p.hi&(1<<bitIdx) != 0 {
			v |= 2
		}
		pixels[i] = v
	}
	p.bg.push8(pixels)
	p.fetchX += 8
}

func (p *PPU) shiftFIFO() {
	if p.bg.empty() {
		return
	}
	if p.outputX == 0 && !p.windowActive && !p.discardDone {
		discard := int(p.bus.SCX()) % 8
		for i := 0; i < discard && !p.bg.empty(); i++ {
			p.bg.pop()
		}
		p.discardDone = true
		if p.bg.empty() {
			return
		}
	}

	bgIndex := p.bg.pop()
	color := translate(bgIndex, p.bus.BGP())

	if hit, ok := p.spriteAt(p.outputX); ok && hit.colorIdx != 0 {
		if !hit.bgPriority || bgIndex == 0 {
			color = translate(hit.colorIdx, hit.palette)
		}
	}

	p.framebuffer[p.line*Width+p.outputX] = color
	p.outputX++
}

func translate(index byte, palette byte) byte {
	return (palette >> (index * 2)) & 0x03
}

type spriteHit struct {
	colorIdx   byte
	bgPriority bool
	palette    byte
}

// spriteAt finds the highest-priority active sprite covering pixel
// column x (the active list is already sorted by X, ties by OAM order)
// and samples its tile, respecting flip flags and the 8/16 height.
func (p *PPU) spriteAt(x int) (spriteHit, bool) {
	if p.bus.LCDC()&0x02 == 0 {
		return spriteHit{}, false
	}
	height := p.spriteHeight()

	for _, e := range p.active {
		if x < e.x || x >= e.x+8 {
			continue
		}
		base := addr.OAMStart + uint16(e.index*4)
		y := int(p.bus.ReadOAMDirect(base)) - 16
		tile := p.bus.ReadOAMDirect(base + 2)
		flags := p.bus.ReadOAMDirect(base + 3)

		row := p.line - y
		if flags&0x40 != 0 {
			row = height - 1 - row
		}
		tileNum := int(tile)
		if height == 16 {
			tileNum &^= 1
			if row >= 8 {
				tileNum++
				row -= 8
			}
		}
		tileAddr := addr.TileData0 + uint16(tileNum*16+row*2)
		lo := p.bus.ReadVRAMDirect(tileAddr)
		hi := p.bus.ReadVRAMDirect(tileAddr + 1)

		col := x - e.x
		bitIdx := 7 - col
		if flags&0x20 != 0 {
			bitIdx = col
		}
		var v byte
		if lo&(1<<uint(bitIdx)) != 0 {
			v |= 1
		}
		if hi&(1<<uint(bitIdx)) != 0 {
			v |= 2
		}

		palette := p.bus.OBP0()
		if flags&0x10 != 0 {
			palette = p.bus.OBP1()
		}
		return spriteHit{colorIdx: v, bgPriority: flags&0x80 != 0, palette: palette}, true
	}
	return spriteHit{}, false
}

// --- HBlank / VBlank ---

func (p *PPU) enterHBlank() {
	if p.windowUsedThisLine {
		p.windowLine++
	}
	p.mode = memory.HBlank
	p.bus.SetMode(memory.HBlank)
	slog.Debug("PPU mode enabled", "mode", "hblank", "line", p.line)
	if p.bus.StatInterruptSources()&0x08 != 0 {
		p.bus.RequestInterrupt(addr.LCDSTAT)
	}
}

func (p *PPU) tickHBlank() {
	p.dot++
	if p.dot >= scanlineCycles {
		p.advanceLine()
	}
}

func (p *PPU) advanceLine() {
	p.dot = 0
	p.line++
	p.bus.SetLY(byte(p.line))
	p.checkLYC()
	if p.line == firstVBlankLine {
		p.enterVBlank()
		return
	}
	p.enterOAMScan()
}

func (p *PPU) enterVBlank() {
	p.mode = memory.VBlank
	p.bus.SetMode(memory.VBlank)
	slog.Debug("PPU mode enabled", "mode", "vblank", "line", p.line)
	p.bus.RequestInterrupt(addr.VBlank)
	if p.bus.StatInterruptSources()&0x10 != 0 {
		p.bus.RequestInterrupt(addr.LCDSTAT)
	}
}

func (p *PPU) tickVBlank() {
	p.dot++
	if p.dot < scanlineCycles {
		return
	}
	p.dot = 0
	p.line++
	if p.line > lastLine {
		p.line = 0
		p.windowLine = 0
		p.bus.SetLY(0)
		p.checkLYC()
		p.enterOAMScan()
		return
	}
	p.bus.SetLY(byte(p.line))
	p.checkLYC()
}

func (p *PPU) checkLYC() {
	if byte(p.line) == p.bus.LYC() && p.bus.StatInterruptSources()&0x40 != 0 {
		p.bus.RequestInterrupt(addr.LCDSTAT)
	}
}
