// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package attiny implements usi.Registers over the real USI peripheral and
// GPIO port of an ATtiny-family AVR, the platform this engine was
// originally written for.
//
// This package is only meant to be built for a bare-metal AVR target (for
// example with a tinygo-style toolchain targeting attiny85): it pokes fixed
// I/O addresses directly and has no meaning on a hosted OS. It exists to
// show how the out-of-scope "platform bring-up" collaborator described in
// spec.md §1 concretely satisfies conn/usi.Registers; conn/usi/usitest is
// the implementation used by this repository's own tests.
package attiny

import (
	"unsafe"

	"github.com/usedbytes/usi-i2c-slave/conn/usi"
)

// I/O register addresses, in the ATtiny85's I/O space. A different chip in
// the family only needs this block changed; everything above it is
// register-layout agnostic.
const (
	addrPINB  uintptr = 0x36
	addrDDRB  uintptr = 0x37
	addrPORTB uintptr = 0x38
	addrUSICR uintptr = 0x0D
	addrUSISR uintptr = 0x0E
	addrUSIDR uintptr = 0x0F
)

// Pin mapping: SDA on PB0, SCL on PB2, the ATtiny85's dedicated USI pins.
const (
	pinSDA = 0
	pinSCL = 2
)

func reg8(addr uintptr) *uint8 {
	return (*uint8)(unsafe.Pointer(addr))
}

func load(addr uintptr) uint8 {
	return *reg8(addr)
}

func store(addr uintptr, v uint8) {
	*reg8(addr) = v
}

func setBit(addr uintptr, bit uint) {
	store(addr, load(addr)|1<<bit)
}

func clearBit(addr uintptr, bit uint) {
	store(addr, load(addr)&^(1<<bit))
}

// USI implements usi.Registers by reading and writing the ATtiny85's USI
// and port B registers directly. It carries no state of its own: the
// hardware registers are the state.
type USI struct{}

// ShiftRegister implements usi.Registers.
func (USI) ShiftRegister() uint8 { return load(addrUSIDR) }

// SetShiftRegister implements usi.Registers.
func (USI) SetShiftRegister(v uint8) { store(addrUSIDR, v) }

// Status implements usi.Registers.
func (USI) Status() usi.StatusFlags { return usi.StatusFlags(load(addrUSISR)) }

// SetStatus implements usi.Registers.
func (USI) SetStatus(v usi.StatusFlags) { store(addrUSISR, uint8(v)) }

// SetControl implements usi.Registers.
func (USI) SetControl(v usi.ControlFlags) { store(addrUSICR, uint8(v)) }

// SetDirection implements usi.Registers by toggling SDA's data-direction
// bit; SCL's direction never changes after Init (it stays an output so the
// chip can stretch the clock).
func (USI) SetDirection(d usi.Direction) {
	if d == usi.Out {
		setBit(addrDDRB, pinSDA)
	} else {
		clearBit(addrDDRB, pinSDA)
	}
}

// AwaitSCLRelease implements usi.Registers. This is the one bounded busy
// loop the spec permits: it returns as soon as the master releases SCL,
// bounded in practice by the master's clock period.
func (USI) AwaitSCLRelease() {
	for load(addrPINB)&(1<<pinSCL) == 0 {
	}
}

var _ usi.Registers = USI{}

// addrSREG is the AVR status register; bit 7 is the global interrupt
// enable flag.
const (
	addrSREG    uintptr = 0x5F
	bitGlobalIE uint    = 7
)

// CriticalSection implements usi.CriticalSection by saving and clearing
// the global interrupt enable flag, the AVR equivalent of cli/sei.
type CriticalSection struct{}

// Enter implements usi.CriticalSection.
func (CriticalSection) Enter() interface{} {
	prev := load(addrSREG)
	clearBit(addrSREG, bitGlobalIE)
	return prev
}

// Exit implements usi.CriticalSection.
func (CriticalSection) Exit(token interface{}) {
	store(addrSREG, token.(uint8))
}

var _ usi.CriticalSection = CriticalSection{}

// Init performs the pin bring-up spec.md §1 describes as an external
// collaborator's responsibility: SCL as an output (so the chip can hold it
// low to stretch the clock), SDA as an input, and internal pull-ups
// enabled on both. It must run before slave.Engine.Init enables
// interrupts, and returns the USI to bind to a slave.Engine.
func Init() USI {
	setBit(addrDDRB, pinSCL)
	clearBit(addrDDRB, pinSDA)
	setBit(addrPORTB, pinSDA)
	setBit(addrPORTB, pinSCL)
	return USI{}
}
