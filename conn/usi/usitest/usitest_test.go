// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package usitest

import (
	"testing"

	"github.com/usedbytes/usi-i2c-slave/conn/usi"
)

func TestSimStatusClearArm8PreservesNothing(t *testing.T) {
	s := NewSim()
	s.raiseStart()
	s.raiseStop()
	s.SetStatus(usi.ClearArm8)
	if s.Status() != 0 {
		t.Fatalf("Status() = %v, want all flags clear and counter 0", s.Status())
	}
}

func TestSimStatusArmACKPreservesStop(t *testing.T) {
	s := NewSim()
	s.raiseStop()
	s.SetStatus(usi.ArmACK)
	st := s.Status()
	if !st.Stop() {
		t.Fatal("ArmACK must not clear a pending stop flag")
	}
	if st.Overflow() {
		t.Fatal("ArmACK must clear the overflow flag")
	}
	if st.Counter() != 14 {
		t.Fatalf("Counter() = %d, want 14", st.Counter())
	}
}

func TestSimDirectionDefaultsIn(t *testing.T) {
	s := NewSim()
	if s.direction() != usi.In {
		t.Fatal("a fresh Sim should have SDA released (In)")
	}
	s.SetDirection(usi.Out)
	if s.direction() != usi.Out {
		t.Fatal("SetDirection(Out) did not take effect")
	}
}

func TestCriticalSectionEnterExitCycles(t *testing.T) {
	cs := &CriticalSection{}
	for i := 0; i < 3; i++ {
		token := cs.Enter()
		cs.Exit(token)
	}
}
