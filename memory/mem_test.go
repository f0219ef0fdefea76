package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marnix-hale/dmgcore/addr"
)

func TestMemoryRoundTripWRAM(t *testing.T) {
	b := NewBus()
	for a := uint16(0xC000); a < 0xDE00; a += 0x101 {
		b.Write(a, 0x5A)
		assert.Equal(t, byte(0x5A), b.Read(a))
	}
}

func TestWRAMMirror(t *testing.T) {
	b := NewBus()

	b.Write(0xC010, 0x42)
	assert.Equal(t, byte(0x42), b.Read(0xE010), "a low-WRAM write must be visible at its +0x2000 mirror")

	b.Write(0xE020, 0x99)
	assert.Equal(t, byte(0x99), b.Read(0xC020), "an echo-RAM write must be visible at its -0x2000 mirror")
}

func TestTimerFallingEdgeIncrementsOnce(t *testing.T) {
	b := NewBus()
	b.Write(addr.TAC, 0x05) // enabled, clock select 01 -> bit 3

	// Drive the counter until bit 3 (0x0008) rises then falls once.
	for i := 0; i < 8; i++ {
		b.Tick()
	}
	before := b.Read(addr.TIMA)
	for i := 0; i < 8; i++ {
		b.Tick()
	}
	after := b.Read(addr.TIMA)

	assert.Equal(t, before+1, after, "exactly one falling edge of the selected bit must increment TIMA once")
}

func TestTimerOverflowReloadsAndRequestsInterrupt(t *testing.T) {
	b := NewBus()
	b.Write(addr.TAC, 0x05)
	b.Write(addr.TMA, 0x7C)
	b.Write(addr.TIMA, 0xFF)

	for i := 0; i < 16; i++ {
		b.Tick()
	}

	assert.Equal(t, byte(0x7C), b.Read(addr.TIMA), "TIMA must reload from TMA on overflow")
	assert.NotZero(t, b.IF()&byte(addr.Timer), "overflow must set the timer interrupt flag")
}

func TestMBC1Bank0Rewrite(t *testing.T) {
	rom := make([]byte, 0x8000*4) // 128 KiB: 8 ROM banks, the first 4 tagged below
	for bank := 0; bank < 4; bank++ {
		for i := 0; i < 0x4000; i++ {
			rom[bank*0x4000+i] = byte(bank)
		}
	}
	rom[0x147] = 0x01 // MBC1, no battery
	rom[0x148] = 0x02 // 8 ROM banks
	rom[0x149] = 0x00 // no external RAM

	cart := NewCartridgeFromData(rom)
	b := NewBusWithCartridge(cart)

	assert.Equal(t, byte(1), b.Read(0x4000), "bank register defaults to 1, not the bank-0 mirror")

	b.Write(0x2000, 0x00) // write 0 into the 5-bit bank-select register
	assert.Equal(t, byte(1), b.Read(0x4000), "writing 0 to the bank register must mirror bank 1, per the MBC1 zero-bank quirk")
}

func TestSetIFStoresValueUnmasked(t *testing.T) {
	b := NewBus()
	b.SetIF(0xFF)
	require.Equal(t, byte(0xFF), b.IF())
}
