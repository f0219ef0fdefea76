package dmgcore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marnix-hale/dmgcore/addr"
	"github.com/marnix-hale/dmgcore/errs"
	"github.com/marnix-hale/dmgcore/memory"
)

func TestRunFrameAdvancesFrameCountAndFramebuffer(t *testing.T) {
	e := New(memory.NewCartridge())
	e.CPU.SetPostBootState()
	// The bus starts with LCDC=0; RunFrame only returns on a VBlank edge,
	// which the PPU produces only while the display is enabled.
	e.Bus.Write(addr.LCDC, 0x80)

	require.NoError(t, e.RunFrame())
	assert.Equal(t, uint64(1), e.FrameCount())
	assert.Len(t, e.FrameBuffer(), FrameWidth*FrameHeight)
}

func TestTickSurfacesIllegalOpcode(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0100] = 0xD3 // illegal opcode
	e := New(memory.NewCartridgeFromData(rom))
	e.CPU.SetPostBootState()

	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = e.Tick()
	}
	require.Error(t, err)
}

func TestTickSurfacesInvalidMemoryAccessOnRAMlessCartridge(t *testing.T) {
	rom := make([]byte, 0x8000) // header defaults to NoMBC, RAMBanks()==0
	rom[0x0100] = 0xFA          // LD A,(nn)
	rom[0x0101] = 0x00
	rom[0x0102] = 0xA0 // operand 0xA000, external RAM with none declared
	e := New(memory.NewCartridgeFromData(rom))
	e.CPU.SetPostBootState()

	var err error
	for i := 0; i < 20 && err == nil; i++ {
		err = e.Tick()
	}
	require.Error(t, err)

	var target *errs.Error
	require.ErrorAs(t, err, &target)
	assert.Equal(t, errs.InvalidMemoryAccess, target.Kind)
}

func TestJoypadPassthrough(t *testing.T) {
	e := New(memory.NewCartridge())
	e.PressKey(memory.JoypadA)
	e.ReleaseKey(memory.JoypadA)
}

func TestExternalRAMRoundTrip(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x147] = 0x03 // MBC1 + battery
	rom[0x148] = 0x00
	rom[0x149] = 0x02 // 1 RAM bank
	e := New(memory.NewCartridgeFromData(rom))

	require.NotNil(t, e.ExternalRAM())
	saved := make([]byte, len(e.ExternalRAM()))
	for i := range saved {
		saved[i] = byte(i)
	}

	e.LoadExternalRAM(saved)
	assert.Equal(t, saved, e.ExternalRAM())
}

func TestNewFromFileSkipsBootROMByDefault(t *testing.T) {
	dir := t.TempDir()
	romPath := dir + "/rom.gb"
	rom := make([]byte, 0x8000)
	require.NoError(t, os.WriteFile(romPath, rom, 0o644))

	e, err := NewFromFile(romPath, "")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0100), e.CPU.PC(), "skipping the boot ROM must leave the CPU in post-boot state")
}
