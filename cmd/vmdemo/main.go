// Command vmdemo boots a tinyvm kernel, runs a small paging workload that
// forces eviction and swap traffic, and dumps the resulting metrics.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	tinyvm "github.com/hctung57/tinyVM"
	"github.com/hctung57/tinyVM/internal/vmstat"
)

var flagConfig = flag.String("config", "", "YAML config file (default: built-in sizes)")
var flagFrames = flag.Int("frames", 0, "Override user_frames from the config")
var flagPages = flag.Int("pages", 96, "Anonymous pages to touch (more than frames forces eviction)")

func main() {
	flag.Parse()

	cfg := tinyvm.DefaultConfig()
	if *flagConfig != "" {
		var err error
		cfg, err = tinyvm.LoadConfig(*flagConfig)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config error:", err)
			os.Exit(1)
		}
	}
	if *flagFrames > 0 {
		cfg.UserFrames = *flagFrames
	}

	k, err := tinyvm.Boot(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "boot error:", err)
		os.Exit(1)
	}
	defer k.Close()

	if err := workload(k, *flagPages); err != nil {
		fmt.Fprintln(os.Stderr, "workload error:", err)
		os.Exit(1)
	}

	if err := dumpMetrics(k); err != nil {
		fmt.Fprintln(os.Stderr, "metrics error:", err)
		os.Exit(1)
	}
}

// workload maps a file, writes through the mapping, then walks enough
// anonymous stack pages to blow past the frame pool.
func workload(k *tinyvm.Kernel, pages int) error {
	f, err := k.Volume().Create("demo.dat", 6000)
	if err != nil {
		return err
	}

	proc := k.NewProcess()
	defer proc.Exit()

	const mapBase = uintptr(0x08048000)
	mapid := proc.Mmap(f, mapBase)
	if mapid == tinyvm.MapFailed {
		return fmt.Errorf("mmap failed")
	}
	if err := proc.Store(mapBase, []byte("tinyvm demo payload")); err != nil {
		return err
	}

	const stackBase = uintptr(0x40000000)
	for i := 0; i < pages; i++ {
		va := stackBase + uintptr(i)*tinyvm.PageSize
		if !proc.GrowStack(va) {
			return fmt.Errorf("stack growth failed at %#x", va)
		}
		if err := proc.Store(va, []byte{byte(i), byte(i >> 8)}); err != nil {
			return err
		}
	}

	// Read the early pages back: anything evicted returns through swap.
	for i := 0; i < pages; i++ {
		va := stackBase + uintptr(i)*tinyvm.PageSize
		b, err := proc.Load(va, 2)
		if err != nil {
			return err
		}
		if b[0] != byte(i) || b[1] != byte(i>>8) {
			return fmt.Errorf("page %d corrupted after swap round-trip", i)
		}
	}

	proc.Munmap(mapid)
	return nil
}

func dumpMetrics(k *tinyvm.Kernel) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(vmstat.NewCollector(k.BufferCache(), k.VM())); err != nil {
		return err
	}
	fams, err := reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(os.Stdout, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range fams {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
