// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package usi

import "testing"

func TestStatusFlagsAccessors(t *testing.T) {
	s := StartFlag | StopFlag | 5
	if !s.Start() {
		t.Error("Start() = false, want true")
	}
	if !s.Stop() {
		t.Error("Stop() = false, want true")
	}
	if s.Overflow() {
		t.Error("Overflow() = true, want false")
	}
	if got := s.Counter(); got != 5 {
		t.Errorf("Counter() = %d, want 5", got)
	}
}

func TestClearArm8ClearsAllFlagsAndZeroesCounter(t *testing.T) {
	if ClearArm8&StartFlag == 0 || ClearArm8&StopFlag == 0 || ClearArm8&OverflowFlag == 0 {
		t.Fatal("ClearArm8 must address all three flag bits")
	}
	if ClearArm8.Counter() != 0 {
		t.Fatalf("ClearArm8 counter field = %d, want 0", ClearArm8.Counter())
	}
}

func TestArmACKPreservesStopFlag(t *testing.T) {
	if ArmACK&StopFlag != 0 {
		t.Fatal("ArmACK must not address the stop flag bit, so a pending STOP survives the write")
	}
	if ArmACK&OverflowFlag == 0 {
		t.Fatal("ArmACK must clear the overflow flag")
	}
	if ArmACK.Counter() != 14 {
		t.Fatalf("ArmACK counter field = %d, want 14", ArmACK.Counter())
	}
}

func TestDirectionString(t *testing.T) {
	cases := map[Direction]string{In: "In", Out: "Out"}
	for d, want := range cases {
		if got := d.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", d, got, want)
		}
	}
}
