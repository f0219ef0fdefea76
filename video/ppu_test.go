package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marnix-hale/dmgcore/addr"
	"github.com/marnix-hale/dmgcore/memory"
)

// testBus is a bare stand-in for memory.Bus's PPU-facing surface,
// grounded on the cpu package's fakeBus pattern of exercising behavior
// against a plain struct rather than mocking individual calls.
type testBus struct {
	lcdc, scy, scx, wy, wx, bgp, obp0, obp1, lyc byte
	mode                                         memory.Mode
	statBits                                     byte
	vram                                         [0x2000]byte
	oam                                          [0xA0]byte
	interrupts                                   []addr.Interrupt
}

func (b *testBus) LCDC() byte                     { return b.lcdc }
func (b *testBus) SCY() byte                      { return b.scy }
func (b *testBus) SCX() byte                      { return b.scx }
func (b *testBus) WY() byte                       { return b.wy }
func (b *testBus) WX() byte                       { return b.wx }
func (b *testBus) BGP() byte                      { return b.bgp }
func (b *testBus) OBP0() byte                     { return b.obp0 }
func (b *testBus) OBP1() byte                     { return b.obp1 }
func (b *testBus) LYC() byte                      { return b.lyc }
func (b *testBus) SetLY(byte)                     {}
func (b *testBus) SetMode(m memory.Mode)          { b.mode = m }
func (b *testBus) StatInterruptSources() byte     { return b.statBits }
func (b *testBus) RequestInterrupt(i addr.Interrupt) { b.interrupts = append(b.interrupts, i) }
func (b *testBus) ReadVRAMDirect(a uint16) byte   { return b.vram[a-0x8000] }
func (b *testBus) ReadOAMDirect(a uint16) byte    { return b.oam[a-addr.OAMStart] }

func writeSprite(b *testBus, index int, y, x, tile, flags byte) {
	b.oam[index*4+0] = y
	b.oam[index*4+1] = x
	b.oam[index*4+2] = tile
	b.oam[index*4+3] = flags
}

func ticksUntilVBlankEdge(p *PPU, bus *testBus) int {
	prevMode := bus.mode
	count := 0
	for {
		p.Tick()
		count++
		if bus.mode == memory.VBlank && prevMode != memory.VBlank {
			return count
		}
		prevMode = bus.mode
	}
}

func TestVBlankIntervalExactly70224(t *testing.T) {
	bus := &testBus{lcdc: 0x80}
	p := NewPPU(bus)

	ticksUntilVBlankEdge(p, bus) // first edge, from the enable reset
	interval := ticksUntilVBlankEdge(p, bus)

	assert.Equal(t, 70224, interval)
}

func TestSpriteOrderingSmallerOAMIndexWins(t *testing.T) {
	bus := &testBus{lcdc: 0x80 | 0x02}
	p := NewPPU(bus)
	p.line = 10

	writeSprite(bus, 0, 26, 58, 0x00, 0x00) // screen X 50, OAM index 0
	writeSprite(bus, 1, 26, 58, 0x01, 0x00) // screen X 50, OAM index 1, same column

	bus.vram[0] = 0x80 // tile 0 row 0: color index 3 at column 0
	bus.vram[1] = 0x80
	bus.vram[16] = 0x80 // tile 1 row 0: color index 1 at column 0
	bus.vram[17] = 0x00

	p.candidates = append(p.candidates, 0, 1)
	p.insertCandidate(0)
	p.insertCandidate(1)

	require.Len(t, p.active, 2)
	assert.Equal(t, 0, p.active[0].index, "the smaller OAM index must sort first on an X tie")

	hit, ok := p.spriteAt(50)
	require.True(t, ok)
	assert.Equal(t, byte(3), hit.colorIdx, "the lower-index sprite's pixel wins the tie")
}

func TestSpriteExtremeXInvisible(t *testing.T) {
	bus := &testBus{lcdc: 0x80 | 0x02}
	p := NewPPU(bus)
	p.line = 10

	writeSprite(bus, 0, 26, 0, 0x00, 0x00)   // OAM X=0 -> screen X -8
	writeSprite(bus, 1, 26, 176, 0x00, 0x00) // OAM X=176 -> screen X 168
	bus.vram[0], bus.vram[1] = 0xFF, 0xFF

	p.candidates = append(p.candidates, 0, 1)
	p.insertCandidate(0)
	p.insertCandidate(1)

	for x := 0; x < Width; x++ {
		_, ok := p.spriteAt(x)
		assert.False(t, ok, "a sprite at X<=0 or X>=168 must not cover any visible column")
	}
}

func TestPPUFirstFrame(t *testing.T) {
	bus := &testBus{lcdc: 0x80 | 0x01 | 0x10, bgp: 0xE4}
	p := NewPPU(bus)

	// Tile 0: row 0 is (0xFF, 0xFF) -> raw color index 3; tile map already
	// zero-valued, so tile 0 covers the whole background.
	bus.vram[0], bus.vram[1] = 0xFF, 0xFF

	for i := 0; i < 70224; i++ {
		p.Tick()
	}

	fb := p.FrameBuffer()
	for x := 0; x < Width; x++ {
		assert.Equal(t, byte(3), fb[x], "pixel %d of the first scanline", x)
	}
}
