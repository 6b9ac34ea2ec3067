// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package slave implements an I²C slave protocol engine on top of a USI
// ("Universal Serial Interface") shift-register peripheral.
//
// The USI provides only raw shift/latch events and a start-condition
// detector; this package synthesizes address matching, ACK/NAK framing,
// SDA direction switching, and stop detection on top of it, exposing a
// small array of byte registers an I²C master can read or write by
// (slave address, register offset).
//
// Engine is a singleton bound to one hardware peripheral: there is exactly
// one Start interrupt and one Overflow interrupt source, and both must
// call into the same *Engine. Nothing here allocates or blocks past the
// single bounded SCL-release wait in OnStart, so it is interrupt-safe.
package slave

import "github.com/usedbytes/usi-i2c-slave/conn/usi"

// ProtocolState is the slave engine's current position in the I²C
// transaction.
type ProtocolState uint8

// Valid ProtocolState values.
const (
	// StateIdle means no transaction is on the wire.
	StateIdle ProtocolState = iota
	// StateAddrMatch means a start condition has been seen and the engine
	// is shifting in the address byte.
	StateAddrMatch
	// StateRegAddr means the address matched for a write and the engine is
	// shifting in the register-offset byte.
	StateRegAddr
	// StateMasterRead means the engine is sourcing register bytes to the
	// master.
	StateMasterRead
	// StateMasterWrite means the engine is accepting data bytes from the
	// master into the register array.
	StateMasterWrite
)

func (s ProtocolState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAddrMatch:
		return "ADDR_MATCH"
	case StateRegAddr:
		return "REG_ADDR"
	case StateMasterRead:
		return "MASTER_READ"
	case StateMasterWrite:
		return "MASTER_WRITE"
	default:
		return "INVALID"
	}
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithStrictAddressMatch makes the engine NAK the I²C general-call address
// (0x00) instead of ACKing it. The historic source behavior ACKs it; this
// option exists for reimplementers who want stricter matching without
// changing the default observable behavior. See spec §9.
func WithStrictAddressMatch() Option {
	return func(e *Engine) { e.strictAddress = true }
}

// Engine is the I²C slave protocol state machine described in spec.md §4.
//
// All exported methods except Init are meant to be called from interrupt
// context (OnStart, OnOverflow) or from the application main loop
// (CheckStop, TransactionOngoing). None of them allocate.
type Engine struct {
	regs usi.Registers
	cs   usi.CriticalSection

	addr          uint8
	strictAddress bool
	mask          WriteMask
	registers     []byte

	// protocol-visible state, §3.
	state         ProtocolState
	offset        int
	updateCounter int
	postAckPhase  bool
}

// New constructs an Engine bound to regs, guarding CheckStop's
// read-modify-write with cs, answering to slaveAddr (the 7-bit address, not
// shifted), sharing registers as the register array, and consulting mask
// for per-write writable-bit masking.
//
// registers is retained, not copied: the engine writes into it directly and
// the application reads it directly, per spec §3's register_array
// ownership model.
func New(regs usi.Registers, cs usi.CriticalSection, slaveAddr uint8, registers []byte, mask WriteMask, opts ...Option) *Engine {
	e := &Engine{
		regs:      regs,
		cs:        cs,
		addr:      slaveAddr & 0x7F,
		registers: registers,
		mask:      mask,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewGlobalMask is New with a single write mask byte applied to every
// register, for builds that define GLOBAL_WRITE_MASK rather than a
// per-register array.
func NewGlobalMask(regs usi.Registers, cs usi.CriticalSection, slaveAddr uint8, registers []byte, globalMask byte, opts ...Option) *Engine {
	return New(regs, cs, slaveAddr, registers, GlobalMask(globalMask), opts...)
}

// NewPerRegisterMask is New with one write mask byte per register, for
// builds that define a write_mask[N_REG] array.
//
// perRegisterMask must have the same length as registers.
func NewPerRegisterMask(regs usi.Registers, cs usi.CriticalSection, slaveAddr uint8, registers []byte, perRegisterMask []byte, opts ...Option) *Engine {
	return New(regs, cs, slaveAddr, registers, PerRegisterMask(perRegisterMask), opts...)
}

// Init configures the USI peripheral and resets protocol state, per spec
// §4.5. It is the only Engine method meant to be called from ordinary
// (non-interrupt) context before interrupts are enabled.
func (e *Engine) Init() {
	e.regs.SetControl(usi.StartInterruptEnable | usi.OverflowInterruptEnable | usi.WireModeTwoWire | usi.ClockSourcePositiveEdge)
	e.state = StateIdle
	e.offset = 0
	e.updateCounter = 0
	e.postAckPhase = false
	e.regs.SetDirection(usi.In)
	e.regs.SetStatus(usi.ClearArm8)
}

// OnStart is the start-condition interrupt handler (spec §4.1, transition
// j). It resets protocol state to "address match expected" and arms the
// bit counter for the 8 bits of the address byte.
//
// AwaitSCLRelease is the one permitted suspension point: it busy-waits,
// bounded by the master's clock period, until the master completes the
// start condition by releasing SCL.
func (e *Engine) OnStart() {
	e.state = StateAddrMatch
	e.postAckPhase = false
	e.regs.AwaitSCLRelease()
	e.regs.SetStatus(usi.ClearArm8)
}

// OnOverflow is the bit-counter overflow interrupt handler (spec §4.1). It
// fires twice per data byte: once after 8 data bits (the pre-ACK phase,
// post_ack_phase == false on entry) and once after the following single-bit
// ACK/NAK slot (the post-ACK phase). post_ack_phase distinguishes the two;
// it is part of the engine's persistent state, not a local variable, since
// it must survive between the two interrupt entries.
func (e *Engine) OnOverflow() {
	var dir usi.Direction
	if !e.postAckPhase {
		dir = e.preACKPhase()
		e.postAckPhase = true
	} else {
		dir = usi.In
		if e.state == StateMasterRead {
			if e.regs.ShiftRegister() != 0 {
				// e: master NAKed, transaction over.
				e.offset = 0
				e.state = StateIdle
			} else {
				// f: master ACKed, load the next byte to send.
				e.regs.SetShiftRegister(e.registers[e.offset])
				e.advanceOffset()
				dir = usi.Out
			}
		}
		e.postAckPhase = false
	}

	e.regs.SetDirection(dir)
	if e.postAckPhase {
		e.regs.SetStatus(usi.ArmACK)
	} else {
		e.regs.SetStatus(usi.ClearArm8)
	}
}

// preACKPhase dispatches the pre-ACK half of OnOverflow: the 8 data bits
// that were just shifted in or out are in the shift register; the engine
// decides the ACK/NAK response (or, for MASTER_READ, releases the bus for
// the master to respond).
func (e *Engine) preACKPhase() usi.Direction {
	switch e.state {
	case StateAddrMatch:
		e.matchAddress()
	case StateRegAddr:
		e.matchRegAddr()
	case StateMasterWrite:
		e.acceptWriteByte()
	case StateMasterRead:
		// Release SDA for the master to drive the ACK/NAK bit. Pre-fill
		// with 0 so a sampled 0 reads back as "master ACKed".
		e.regs.SetShiftRegister(0x00)
		return usi.In
	default:
		e.nak()
	}
	return usi.Out
}

// matchAddress applies transitions a, b, and h.
func (e *Engine) matchAddress() {
	addrByte := e.regs.ShiftRegister()
	rw := addrByte & 0x01
	upper := addrByte >> 1
	generalCall := upper == 0
	matched := upper == e.addr || (generalCall && !e.strictAddress)
	if !matched {
		e.nak()
		return
	}
	if rw == 0 {
		// a: master will write. update_counter only counts committed data
		// bytes (transition g), per spec §8 invariant 4; address match alone
		// does not mark the engine dirty.
		e.offset = 0
		e.state = StateRegAddr
	} else {
		// b: master will read.
		e.state = StateMasterRead
	}
	e.regs.SetShiftRegister(0x00)
}

// matchRegAddr applies transitions d and i.
func (e *Engine) matchRegAddr() {
	off := e.regs.ShiftRegister()
	if int(off) >= len(e.registers) {
		e.nak()
		return
	}
	e.offset = int(off)
	e.state = StateMasterWrite
	e.regs.SetShiftRegister(0x00)
}

// acceptWriteByte applies transition g: merge the received byte into the
// register array under the write mask, ACK, and advance the offset.
func (e *Engine) acceptWriteByte() {
	b := e.regs.ShiftRegister()
	mask := e.mask.Mask(e.offset)
	e.registers[e.offset] = (e.registers[e.offset] &^ mask) | (b & mask)
	e.updateCounter++
	e.regs.SetShiftRegister(0x00)
	e.advanceOffset()
}

// advanceOffset increments register_offset, wrapping at N_REG.
func (e *Engine) advanceOffset() {
	e.offset++
	if e.offset >= len(e.registers) {
		e.offset = 0
	}
}

// nak drives a NAK onto the bus and resynchronizes to IDLE; the next START
// will bring the engine back to ADDR_MATCH.
func (e *Engine) nak() {
	e.regs.SetShiftRegister(0x80)
	e.state = StateIdle
}

// CheckStop is the stop poller described in spec §4.3. It must be called
// periodically from the application main loop, never from interrupt
// context.
//
// The USI cannot interrupt on STOP, since a stop condition can occur
// between byte boundaries; the poller is how the engine detects it without
// racing the overflow handler. If a write transaction is outstanding, at
// least one byte has been committed since the last successful poll, and
// the STOP flag is set, CheckStop atomically finalizes the transaction and
// returns a positive, otherwise-opaque "writes committed" signal. It
// returns 0 otherwise.
func (e *Engine) CheckStop() int {
	token := e.cs.Enter()
	defer e.cs.Exit(token)
	if e.state != StateMasterWrite || e.updateCounter == 0 {
		return 0
	}
	if !e.regs.Status().Stop() {
		return 0
	}
	n := e.updateCounter
	e.updateCounter = 0
	e.state = StateIdle
	return n
}

// TransactionOngoing reports whether a transaction is currently on the
// wire, i.e. protocol_state is neither IDLE nor ADDR_MATCH. It is a single
// read of a word-sized field and needs no critical section: the
// application may use it to defer work that could otherwise mask an ISR
// window, but it is only ever a hint, never a synchronization point.
func (e *Engine) TransactionOngoing() bool {
	return e.state != StateIdle && e.state != StateAddrMatch
}

// State returns the current protocol state. It exists for diagnostics and
// tests; the application should prefer TransactionOngoing for control
// flow.
func (e *Engine) State() ProtocolState {
	return e.state
}

// Offset returns the current register pointer. It exists for diagnostics
// and tests.
func (e *Engine) Offset() int {
	return e.offset
}
