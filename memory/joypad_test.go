package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marnix-hale/dmgcore/addr"
)

func TestJoypadSelectsDpadVsButtonsNibble(t *testing.T) {
	b := NewBus()
	b.PressKey(JoypadA)
	b.PressKey(JoypadUp)

	b.Write(addr.P1, 0x10) // select buttons (bit5=0)
	assert.Equal(t, byte(0xC0|0x10|0x0E), b.Read(addr.P1), "A pressed must clear bit 0 of the buttons nibble")

	b.Write(addr.P1, 0x20) // select d-pad (bit4=0)
	assert.Equal(t, byte(0xC0|0x20|0x0B), b.Read(addr.P1), "Up pressed must clear bit 2 of the d-pad nibble")
}

func TestJoypadPressRequestsInterruptOnAllOnesTransition(t *testing.T) {
	b := NewBus()
	b.Write(addr.P1, 0x10) // select buttons, nothing pressed yet

	b.PressKey(JoypadB)
	assert.NotZero(t, b.IF()&byte(addr.Joypad), "pressing a key while its nibble reads all-ones must request the joypad interrupt")
}

func TestJoypadReleaseRestoresBit(t *testing.T) {
	b := NewBus()
	b.PressKey(JoypadStart)
	b.Write(addr.P1, 0x10)
	assert.Equal(t, byte(0xC0|0x10|0x07), b.Read(addr.P1))

	b.ReleaseKey(JoypadStart)
	assert.Equal(t, byte(0xC0|0x10|0x0F), b.Read(addr.P1), "releasing a key must set its bit back")
}
