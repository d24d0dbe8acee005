package agent

import (
	"fmt"
	"strings"
)

// Dir is the facing; its value is the sign of the horizontal step.
type Dir int8

const (
	East Dir = 1
	West Dir = -1
)

func (d Dir) Flip() Dir {
	if d == West {
		return East
	}
	return West
}

func (d Dir) String() string {
	if d == West {
		return "WEST"
	}
	return "EAST"
}

type Job uint8

const (
	Idle Job = iota
	Walk
	Build
	Bridge
	Dig
)

var jobNames = [...]string{
	Idle:   "IDLE",
	Walk:   "WALK",
	Build:  "BUILD",
	Bridge: "BRIDGE",
	Dig:    "DIG",
}

func (j Job) String() string {
	if int(j) < len(jobNames) {
		return jobNames[j]
	}
	return fmt.Sprintf("JOB(%d)", uint8(j))
}

func ParseJob(s string) (Job, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range jobNames {
		if n == s {
			return Job(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown job %q", s)
}

// VerticalPolicy decides what happens to an agent that climbs above the top edge.
type VerticalPolicy uint8

const (
	// VerticalWrap reappears at the bottom of the world.
	VerticalWrap VerticalPolicy = iota
	// VerticalClamp pins the agent to the top row and cancels its vertical velocity.
	VerticalClamp
)

func (p VerticalPolicy) String() string {
	if p == VerticalClamp {
		return "clamp"
	}
	return "wrap"
}

func ParseVerticalPolicy(s string) (VerticalPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wrap":
		return VerticalWrap, nil
	case "clamp":
		return VerticalClamp, nil
	default:
		return VerticalWrap, fmt.Errorf("unknown vertical_policy %q", s)
	}
}

// Chances are 1-in-N per-tick odds.
type Chances struct {
	IdleExit   int // Idle leaves
	IdleToDig  int // ...and becomes Dig rather than Walk
	WalkExit   int // Walk leaves
	WalkToIdle int // ...and becomes Idle rather than Build/Bridge
	BuildExit  int
	BridgeExit int
	DigExit    int
	Flip       int // facing flips, any job
}

func DefaultChances() Chances {
	return Chances{
		IdleExit:   500,
		IdleToDig:  5,
		WalkExit:   500,
		WalkToIdle: 2,
		BuildExit:  500,
		BridgeExit: 500,
		DigExit:    50,
		Flip:       1000,
	}
}

type Config struct {
	Chances  Chances
	Vertical VerticalPolicy
}

func DefaultConfig() Config {
	return Config{Chances: DefaultChances(), Vertical: VerticalWrap}
}
