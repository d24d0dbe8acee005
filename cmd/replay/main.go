package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	var (
		runDir   = flag.String("run", "", "run directory containing run.yaml and events/")
		fromTick = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick   = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *runDir == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}

	res, err := replayRun(*runDir, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: world=%s seed=%d checked=%d ticks (stepped=%d files=%d)\n",
		res.WorldID, res.Seed, res.Checked, res.Stepped, res.Files)
}
