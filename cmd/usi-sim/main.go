// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// usi-sim replays a scripted I²C transaction through a simulated USI
// peripheral and slave engine. After a write it prints the resulting
// register array (or reports that no registers changed); after a read it
// prints the bytes read back.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/usedbytes/usi-i2c-slave/conn/usi/usitest"
	"github.com/usedbytes/usi-i2c-slave/slave"
)

func mainImpl() error {
	addr := flag.Int("a", 0x40, "slave address to simulate")
	nReg := flag.Int("n", 8, "number of registers")
	mask := flag.Int("m", 0xFF, "global write mask applied to every register")
	write := flag.String("w", "", "comma separated hex bytes to write, starting at -r")
	reg := flag.Int("r", 0, "register offset to address")
	readLen := flag.Int("l", 0, "number of bytes to read after -r, ignored if -w is set")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()

	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if *addr < 0 || *addr > 0x7F {
		return errors.New("-a must be a 7-bit address")
	}
	if *nReg <= 0 || *nReg > 256 {
		return errors.New("-n must be between 1 and 256")
	}
	if *reg < 0 || *reg >= *nReg {
		return fmt.Errorf("-r must be between 0 and %d", *nReg-1)
	}

	registers := make([]byte, *nReg)
	sim := usitest.NewSim()
	engine := slave.NewGlobalMask(sim, &usitest.CriticalSection{}, uint8(*addr), registers, byte(*mask))
	engine.Init()
	m := usitest.NewMaster(sim, engine)
	m.Log = log.Printf

	isWrite := *write != ""
	var data []byte
	if isWrite {
		for _, tok := range strings.Split(*write, ",") {
			b, err := strconv.ParseUint(strings.TrimSpace(tok), 16, 8)
			if err != nil {
				return fmt.Errorf("invalid byte %q: %w", tok, err)
			}
			data = append(data, byte(b))
		}
	}

	m.Start()
	if !m.WriteByte(byte(*addr) << 1) {
		return errors.New("slave NAKed the address+W byte")
	}
	if !m.WriteByte(byte(*reg)) {
		return errors.New("slave NAKed the register offset byte")
	}
	if isWrite {
		for _, b := range data {
			if !m.WriteByte(b) {
				return errors.New("slave NAKed a data byte")
			}
		}
		m.Stop()
		if n := engine.CheckStop(); n > 0 {
			fmt.Printf("write committed, registers: %s\n", hex.EncodeToString(registers))
		} else {
			fmt.Println("no registers changed")
		}
		return nil
	}

	m.Start()
	if !m.WriteByte(byte(*addr)<<1 | 1) {
		return errors.New("slave NAKed the address+R byte")
	}
	read := make([]byte, readLenOrOne(*readLen))
	for i := range read {
		last := i == len(read)-1
		b, err := m.ReadByte(last)
		if err != nil {
			return err
		}
		read[i] = b
	}
	m.Stop()
	fmt.Printf("read: %s\n", hex.EncodeToString(read))
	return nil
}

func readLenOrOne(l int) int {
	if l <= 0 {
		return 1
	}
	return l
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "usi-sim: %s\n", err)
		os.Exit(1)
	}
}
