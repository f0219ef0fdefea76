package cpu

// cbTable holds the 256 CB-prefixed instructions: rotate/shift/swap
// (0x00-0x3F), BIT (0x40-0x7F), RES (0x80-0xBF), SET (0xC0-0xFF), each
// block regular over an 8-operand column matching reg8's encoding
// order. Grounded on go-jeebie's cpu/opcodes_cb.go, generalized into a
// loop since the encoding is fully regular.
var cbTable [256]cbEntry

// cbEntry describes one CB-prefixed instruction. registerOp applies
// directly when the operand is a plain register; hlProgram, built once
// at init, is the extra machine-cycle program cbDispatchStep redirects
// into when the operand is (HL), so no slice is ever allocated during
// dispatch.
type cbEntry struct {
	registerOp func(c *CPU)
	hlProgram  []mCycleFunc
}

func init() {
	rotateOps := []func(c *CPU, v byte) byte{
		(*CPU).rlc, (*CPU).rrc, (*CPU).rl, (*CPU).rr,
		(*CPU).sla, (*CPU).sra, (*CPU).swap, (*CPU).srl,
	}
	for op := 0; op < 8; op++ {
		fn := rotateOps[op]
		for col := reg8(0); col < 8; col++ {
			opcode := op*8 + int(col)
			c := col
			cbTable[opcode] = cbEntry{
				registerOp: func(cpu *CPU) { cpu.r.set8(c, fn(cpu, cpu.r.get8(c))) },
				hlProgram: []mCycleFunc{
					func(cpu *CPU) { cpu.scratch8 = cpu.read(cpu.r.hl()) },
					func(cpu *CPU) { cpu.write(cpu.r.hl(), fn(cpu, cpu.scratch8)) },
				},
			}
		}
	}

	for b := uint8(0); b < 8; b++ {
		bitIdx := b

		for col := reg8(0); col < 8; col++ {
			opcode := 0x40 + int(bitIdx)*8 + int(col)
			c := col
			cbTable[opcode] = cbEntry{
				registerOp: func(cpu *CPU) { cpu.bitTest(bitIdx, cpu.r.get8(c)) },
				hlProgram: []mCycleFunc{
					func(cpu *CPU) { cpu.bitTest(bitIdx, cpu.read(cpu.r.hl())) },
				},
			}
		}
		for col := reg8(0); col < 8; col++ {
			opcode := 0x80 + int(bitIdx)*8 + int(col)
			c := col
			cbTable[opcode] = cbEntry{
				registerOp: func(cpu *CPU) { cpu.r.set8(c, resBit(bitIdx, cpu.r.get8(c))) },
				hlProgram: []mCycleFunc{
					func(cpu *CPU) { cpu.scratch8 = cpu.read(cpu.r.hl()) },
					func(cpu *CPU) { cpu.write(cpu.r.hl(), resBit(bitIdx, cpu.scratch8)) },
				},
			}
		}
		for col := reg8(0); col < 8; col++ {
			opcode := 0xC0 + int(bitIdx)*8 + int(col)
			c := col
			cbTable[opcode] = cbEntry{
				registerOp: func(cpu *CPU) { cpu.r.set8(c, setBit(bitIdx, cpu.r.get8(c))) },
				hlProgram: []mCycleFunc{
					func(cpu *CPU) { cpu.scratch8 = cpu.read(cpu.r.hl()) },
					func(cpu *CPU) { cpu.write(cpu.r.hl(), setBit(bitIdx, cpu.scratch8)) },
				},
			}
		}
	}
}

// cbDispatchStep is the single machine cycle that reads the
// CB-prefixed opcode's second byte and either executes it in place
// (plain register operand) or redirects the active program into the
// operand's precomputed (HL) read/write machine cycles.
func cbDispatchStep(c *CPU) {
	opcode := c.read(c.r.pc)
	c.r.pc++
	col := reg8(opcode & 0x07)
	entry := cbTable[opcode]

	if col != regHLInd {
		entry.registerOp(c)
		return
	}
	c.program = entry.hlProgram
	c.step = -1
}
