// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// usi-bench drives a slave engine through many randomized transactions and
// reports ACK/NAK and write-commit statistics, the way a soak test would
// run against real hardware before a firmware release.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"sort"

	"gopkg.in/urfave/cli.v2"

	"github.com/usedbytes/usi-i2c-slave/conn/usi/usitest"
	"github.com/usedbytes/usi-i2c-slave/slave"
)

type stats struct {
	transactions int
	acked        int
	naked        int
	commits      int
}

func runTransactions(n, nReg, seed int) stats {
	registers := make([]byte, nReg)
	sim := usitest.NewSim()
	engine := slave.NewGlobalMask(sim, &usitest.CriticalSection{}, 0x40, registers, 0xFF)
	engine.Init()
	m := usitest.NewMaster(sim, engine)

	rng := rand.New(rand.NewSource(int64(seed)))
	var s stats
	for i := 0; i < n; i++ {
		s.transactions++
		m.Start()
		addrByte := byte(0x40 << 1)
		if rng.Intn(10) == 0 {
			// Occasionally send a random address instead; most of these do
			// not match, but 0x40 and the general-call address 0 are ACKed.
			addrByte = byte(rng.Intn(0x7F)) << 1
		}
		if !m.WriteByte(addrByte) {
			s.naked++
			continue
		}
		s.acked++
		off := byte(rng.Intn(nReg))
		if !m.WriteByte(off) {
			s.naked++
			continue
		}
		s.acked++
		numData := rng.Intn(4)
		for j := 0; j < numData; j++ {
			if !m.WriteByte(byte(rng.Intn(256))) {
				s.naked++
				break
			}
			s.acked++
		}
		m.Stop()
		if engine.CheckStop() > 0 {
			s.commits++
		}
	}
	return s
}

func main() {
	app := &cli.App{
		Name:  "usi-bench",
		Usage: "soak-test the USI slave engine with randomized bus transactions",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1000, Usage: "number of transactions to run"},
			&cli.IntFlag{Name: "registers", Aliases: []string{"r"}, Value: 8, Usage: "number of registers in the simulated array"},
			&cli.IntFlag{Name: "seed", Aliases: []string{"s"}, Value: 1, Usage: "PRNG seed, for reproducible runs"},
		},
		Action: func(c *cli.Context) error {
			s := runTransactions(c.Int("count"), c.Int("registers"), c.Int("seed"))
			fmt.Printf("transactions: %d\n", s.transactions)
			fmt.Printf("bytes acked:  %d\n", s.acked)
			fmt.Printf("bytes naked:  %d\n", s.naked)
			fmt.Printf("writes committed: %d\n", s.commits)
			return nil
		},
	}
	sort.Sort(cli.FlagsByName(app.Flags))
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
