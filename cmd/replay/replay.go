package main

import (
	"errors"
	"fmt"
	"path/filepath"

	persistlog "sandcraft.ai/internal/persistence/log"
	"sandcraft.ai/internal/sim/tuning"
	"sandcraft.ai/internal/sim/world"
)

type replayResult struct {
	WorldID string
	Seed    int64
	Files   int
	Stepped uint64
	Checked uint64
}

// errStop ends the scan once toTick has been stepped.
var errStop = errors.New("stop")

// replayRun rebuilds the world from the run's tuning, re-applies each logged tick's paints and
// compares the resulting digests with the logged ones.
func replayRun(runDir string, fromTick, toTick uint64) (replayResult, error) {
	var res replayResult

	tune, err := tuning.Load(filepath.Join(runDir, "run.yaml"))
	if err != nil {
		return res, fmt.Errorf("load run.yaml: %w", err)
	}
	cfg, err := tune.WorldConfig()
	if err != nil {
		return res, err
	}
	w, err := world.New(cfg)
	if err != nil {
		return res, fmt.Errorf("world: %w", err)
	}
	res.WorldID, res.Seed = w.ID(), cfg.Seed

	files, err := persistlog.ListFiles(filepath.Join(runDir, "events"), "events")
	if err != nil {
		return res, fmt.Errorf("list events: %w", err)
	}
	if len(files) == 0 {
		return res, fmt.Errorf("no events files found in %s", runDir)
	}
	res.Files = len(files)

	for _, path := range files {
		err := persistlog.ScanTicks(path, func(entry world.TickLogEntry) error {
			if toTick != 0 && entry.Tick > toTick {
				return errStop
			}
			if entry.Tick != w.CurrentTick() {
				return fmt.Errorf("tick mismatch: want=%d got=%d (file=%s)", w.CurrentTick(), entry.Tick, filepath.Base(path))
			}

			tick, gotDigest := w.StepOnce(entry.Paints)
			res.Stepped++

			if tick >= fromTick {
				res.Checked++
				if gotDigest != entry.Digest {
					return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, gotDigest, entry.Digest)
				}
			}
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return res, err
		}
	}
	return res, nil
}
