package memory

import "github.com/marnix-hale/dmgcore/bit"

// JoypadKey identifies one of the eight Game Boy buttons.
type JoypadKey uint8

const (
	JoypadRight JoypadKey = iota
	JoypadLeft
	JoypadUp
	JoypadDown
	JoypadA
	JoypadB
	JoypadSelect
	JoypadStart
)

// joypad models the P1 register: two select lines choose whether the
// low nibble exposes the D-pad or the action buttons, grounded on
// go-jeebie's memory/joypad.go.
type joypad struct {
	buttons uint8 // bit cleared = pressed
	dpad    uint8
	select_ uint8

	interruptFn func()
}

func newJoypad(interruptFn func()) *joypad {
	return &joypad{buttons: 0x0F, dpad: 0x0F, interruptFn: interruptFn}
}

func (j *joypad) read() uint8 {
	nibble := uint8(0x0F)
	switch {
	case j.select_&0x10 == 0:
		nibble = j.dpad
	case j.select_&0x20 == 0:
		nibble = j.buttons
	}
	return 0xC0 | j.select_ | nibble
}

func (j *joypad) write(value uint8) {
	j.select_ = value & 0x30
}

// press clears the bit for key and raises the Joypad interrupt on the
// all-ones -> not-all-ones transition of the currently selected nibble,
// per spec.md §6.
func (j *joypad) press(key JoypadKey) {
	before := j.read()
	if isDpad(key) {
		j.dpad = bit.Reset(dpadIndex(key), j.dpad)
	} else {
		j.buttons = bit.Reset(buttonIndex(key), j.buttons)
	}
	after := j.read()
	if before&0x0F == 0x0F && after&0x0F != 0x0F && j.interruptFn != nil {
		j.interruptFn()
	}
}

func (j *joypad) release(key JoypadKey) {
	if isDpad(key) {
		j.dpad = bit.Set(dpadIndex(key), j.dpad)
	} else {
		j.buttons = bit.Set(buttonIndex(key), j.buttons)
	}
}

func isDpad(key JoypadKey) bool {
	switch key {
	case JoypadRight, JoypadLeft, JoypadUp, JoypadDown:
		return true
	default:
		return false
	}
}

func dpadIndex(key JoypadKey) uint8 {
	switch key {
	case JoypadRight:
		return 0
	case JoypadLeft:
		return 1
	case JoypadUp:
		return 2
	default: // JoypadDown
		return 3
	}
}

func buttonIndex(key JoypadKey) uint8 {
	switch key {
	case JoypadA:
		return 0
	case JoypadB:
		return 1
	case JoypadSelect:
		return 2
	default: // JoypadStart
		return 3
	}
}
