// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// The tcpstress command exercises the TCP connection pool under
// synthetic workloads and dumps its metrics, to eyeball allocation
// and reclamation behavior before committing to a pool size.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/netip"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"

	"embnet.dev/net/tcppool"
	"embnet.dev/types/logger"
)

var verbose bool

func main() {
	rootfs := flag.NewFlagSet("tcpstress", flag.ExitOnError)
	rootfs.BoolVar(&verbose, "verbose", false, "log pool activity")

	root := &ffcli.Command{
		Name:        "tcpstress",
		ShortUsage:  "tcpstress [flags] <subcommand>",
		ShortHelp:   "Exercise the TCP connection pool under synthetic load.",
		FlagSet:     rootfs,
		Subcommands: []*ffcli.Command{churnCmd(), synsCmd()},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}
	if err := root.ParseAndRun(context.Background(), os.Args[1:]); err != nil && err != flag.ErrHelp {
		log.Fatal(err)
	}
}

func poolLogf() logger.Logf {
	if !verbose {
		return logger.Discard
	}
	// The reclaim path can get chatty under a SYN flood.
	return logger.RateLimitedFn(log.Printf, time.Second, 50, 100)
}

func dumpStats(p *tcppool.Pool) {
	fmt.Println(p.ExpVar().String())
}

func churnCmd() *ffcli.Command {
	fs := flag.NewFlagSet("tcpstress churn", flag.ExitOnError)
	capacity := fs.Int("capacity", 16, "pool capacity")
	iters := fs.Int("iters", 10000, "connections to open and close")
	linger := fs.Bool("linger", false, "run with linger semantics (no forced reclaim)")

	return &ffcli.Command{
		Name:       "churn",
		ShortUsage: "tcpstress churn [flags]",
		ShortHelp:  "Open and close outbound connections as fast as possible.",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			p, err := tcppool.New(tcppool.Config{
				Capacity: *capacity,
				Linger:   *linger,
				Logf:     poolLogf(),
			})
			if err != nil {
				return err
			}
			remote := netip.MustParseAddrPort("192.0.2.1:443")
			for i := 0; i < *iters; i++ {
				c := p.Alloc()
				if c == nil {
					return fmt.Errorf("pool exhausted after %d connections", i)
				}
				if err := p.Bind(c, 0); err != nil {
					return fmt.Errorf("bind: %w", err)
				}
				if err := p.Connect(c, remote); err != nil {
					return fmt.Errorf("connect: %w", err)
				}
				p.Release(c)
			}
			dumpStats(p)
			return nil
		},
	}
}

func synsCmd() *ffcli.Command {
	fs := flag.NewFlagSet("tcpstress syns", flag.ExitOnError)
	capacity := fs.Int("capacity", 16, "pool capacity")
	syns := fs.Int("syns", 1000, "inbound SYNs to process")
	linger := fs.Bool("linger", false, "run with linger semantics (no forced reclaim)")

	return &ffcli.Command{
		Name:       "syns",
		ShortUsage: "tcpstress syns [flags]",
		ShortHelp:  "Flood a mostly-full pool with inbound SYNs to watch the sacrifice policy.",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			p, err := tcppool.New(tcppool.Config{
				Capacity: *capacity,
				Linger:   *linger,
				Logf:     poolLogf(),
			})
			if err != nil {
				return err
			}

			// Fill most of the pool with established
			// connections, plus a few half-closed stragglers
			// that the allocator is allowed to sacrifice.
			states := []tcppool.State{tcppool.Established, tcppool.Established, tcppool.Established, tcppool.TimeWait, tcppool.LastAck}
			remote := netip.MustParseAddrPort("192.0.2.1:443")
			for i := 0; ; i++ {
				c := p.Alloc()
				if c == nil {
					break
				}
				if err := p.Connect(c, remote); err != nil {
					return fmt.Errorf("connect: %w", err)
				}
				p.Lock()
				c.State = states[i%len(states)]
				c.Timer = uint16(i)
				p.Unlock()
			}

			src := netip.MustParseAddr("203.0.113.50")
			accepted := 0
			for i := 0; i < *syns; i++ {
				p.Lock()
				c := p.Accept(tcppool.Segment{
					Src:     netip.AddrPortFrom(src, uint16(32768+i%8192)),
					DstPort: 80,
					Seq:     uint32(i),
				})
				if c != nil {
					accepted++
					// The handshake never completes;
					// age the record out so it stays
					// reclaimable.
					c.State = tcppool.TimeWait
					c.Timer = uint16(i)
				}
				p.Unlock()
			}

			fmt.Printf("accepted %d of %d SYNs\n", accepted, *syns)
			dumpStats(p)
			return nil
		},
	}
}
