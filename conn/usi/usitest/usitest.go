// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package usitest is meant to be used to test a slave.Engine without real
// USI hardware, the way conn/i2c/i2ctest lets a driver be tested without a
// real I²C bus.
//
// Sim implements usi.Registers entirely in memory. Master drives it one
// byte and ACK slot at a time, placing each byte in the shift register
// whole rather than shifting individual bits, and calls into the engine's
// OnStart/OnOverflow at the points real interrupts would fire, so
// end-to-end bus scenarios (spec.md §8) can be exercised without a
// physical chip.
package usitest

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/usedbytes/usi-i2c-slave/conn/usi"
)

// Sim is a simulated USI peripheral.
type Sim struct {
	mu sync.Mutex

	shift   uint8
	status  usi.StatusFlags
	control usi.ControlFlags
	dir     usi.Direction

	// sclReleased is set by NewSim and never cleared, simulating the master
	// always having released SCL before the slave's start handler runs. It
	// lets AwaitSCLRelease return immediately in tests instead of spinning.
	sclReleased bool
}

// NewSim returns a Sim with no flags set and SDA released, matching the
// USI's power-on state.
func NewSim() *Sim {
	return &Sim{dir: usi.In, sclReleased: true}
}

// ShiftRegister implements usi.Registers.
func (s *Sim) ShiftRegister() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shift
}

// SetShiftRegister implements usi.Registers.
func (s *Sim) SetShiftRegister(v uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shift = v
}

// Status implements usi.Registers.
func (s *Sim) Status() usi.StatusFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus implements usi.Registers. Writing a 1 to a flag bit clears it;
// the counter field is set verbatim, matching real USI semantics.
func (s *Sim) SetStatus(v usi.StatusFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := s.status &^ (v & (usi.StartFlag | usi.StopFlag | usi.OverflowFlag))
	s.status = (cleared &^ usi.CounterMask) | (v & usi.CounterMask)
}

// SetDirection implements usi.Registers.
func (s *Sim) SetDirection(d usi.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = d
}

// SetControl implements usi.Registers.
func (s *Sim) SetControl(v usi.ControlFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.control = v
}

// AwaitSCLRelease implements usi.Registers. In the simulation the master
// always releases SCL before signalling the start condition, so this never
// actually spins; it exists so Sim satisfies the interface and so a busy
// platform adapter's behavior (bounded wait) is documented in one place.
func (s *Sim) AwaitSCLRelease() {
	for {
		s.mu.Lock()
		ok := s.sclReleased
		s.mu.Unlock()
		if ok {
			return
		}
		unix.Nanosleep(&unix.Timespec{Nsec: 1}, nil)
	}
}

func (s *Sim) direction() usi.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// Control returns the control register as last written by SetControl, for
// tests that want to assert Init configured the peripheral correctly.
func (s *Sim) Control() usi.ControlFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control
}

func (s *Sim) raiseStart() {
	s.mu.Lock()
	s.status |= usi.StartFlag
	s.mu.Unlock()
}

func (s *Sim) raiseStop() {
	s.mu.Lock()
	s.status |= usi.StopFlag
	s.mu.Unlock()
}

var _ usi.Registers = (*Sim)(nil)

// CriticalSection is a sync.Mutex-backed usi.CriticalSection, the
// simulation's stand-in for disabling interrupts.
type CriticalSection struct {
	mu sync.Mutex
}

// Enter implements usi.CriticalSection.
func (c *CriticalSection) Enter() interface{} {
	c.mu.Lock()
	return nil
}

// Exit implements usi.CriticalSection.
func (c *CriticalSection) Exit(interface{}) {
	c.mu.Unlock()
}

var _ usi.CriticalSection = (*CriticalSection)(nil)

// Engine is the subset of slave.Engine that Master needs, declared locally
// so this package does not import the slave package (and so Master is
// usable against any conforming implementation, real or fake).
type Engine interface {
	OnStart()
	OnOverflow()
}

// Master drives a Sim, and the Engine attached to it, the way a real I²C
// master drives the wire: issuing START/STOP and shifting address, offset,
// and data bytes with their ACK/NAK slots.
//
// Master is a test harness, not a protocol implementation: it assumes the
// Sim it was built with is not shared with a concurrently-running master,
// matching the single-transaction-at-a-time model of spec.md.
type Master struct {
	sim    *Sim
	engine Engine

	// Log, if non-nil, receives one line per START, STOP and byte
	// transferred, the way
	// cmd/i2c's -v flag enables transfer logging.
	Log func(format string, args ...interface{})
}

// NewMaster returns a Master bound to sim and engine.
func NewMaster(sim *Sim, engine Engine) *Master {
	return &Master{sim: sim, engine: engine}
}

func (m *Master) logf(format string, args ...interface{}) {
	if m.Log != nil {
		m.Log(format, args...)
	}
}

// Start issues a START (or repeated START) condition and lets the engine
// shift in the next byte as an address byte.
func (m *Master) Start() {
	m.sim.raiseStart()
	m.engine.OnStart()
	m.logf("START")
}

// Stop issues a STOP condition. It only sets the status flag; per
// spec.md §4.3 the engine only observes it the next time CheckStop is
// polled.
func (m *Master) Stop() {
	m.sim.raiseStop()
	m.logf("STOP")
}

// WriteByte shifts b out onto the bus and returns whether the slave ACKed
// it (true) or NAKed it (false).
func (m *Master) WriteByte(b byte) bool {
	m.sim.SetShiftRegister(b)
	m.engine.OnOverflow() // pre-ACK phase: slave decides ACK/NAK
	ack := m.sim.direction() == usi.Out && m.sim.ShiftRegister()&0x80 == 0
	m.engine.OnOverflow() // post-ACK phase
	m.logf("write 0x%02x ack=%v", b, ack)
	return ack
}

// ReadByte clocks one byte from the slave, ACKing it unless last is true
// (in which case the master NAKs, ending the read per I²C convention).
func (m *Master) ReadByte(last bool) (byte, error) {
	// The byte is already sitting in the shift register from the previous
	// ACK slot (or from the address-ACK, for the first byte of a read).
	b := m.sim.ShiftRegister()
	if m.sim.direction() != usi.Out {
		return 0, fmt.Errorf("usitest: slave is not driving SDA, nothing to read")
	}
	m.engine.OnOverflow() // pre-ACK phase: releases SDA for the master's ACK/NAK
	if last {
		m.sim.SetShiftRegister(0x80) // master NAKs
	} else {
		m.sim.SetShiftRegister(0x00) // master ACKs
	}
	m.engine.OnOverflow() // post-ACK phase: slave loads the next byte, if any
	m.logf("read 0x%02x last=%v", b, last)
	return b, nil
}
