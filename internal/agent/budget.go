package agent

import (
	"time"

	"voxelhand.ai/internal/executor"
)

// branchSpan is the main-tunnel length one dig budget covers for
// branch mining.
const branchSpan = 16

// Budget is how long the controller should let an intent run before it
// sends an abort. The core itself never enforces it.
func (c *Core) Budget(kind executor.Kind, params any) time.Duration {
	b := c.tun.Budgets
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	switch kind {
	case executor.KindMine:
		n := 1
		if req, ok := params.(executor.MineRequest); ok && req.Count > 0 {
			n = req.Count
		}
		return max(ms(b.MineMinMs), ms(b.MinePerBlockMs)*time.Duration(n))
	case executor.KindBranchMine:
		scale := 1
		if req, ok := params.(executor.BranchMineRequest); ok {
			scale = max(1, (req.Length+branchSpan-1)/branchSpan)
		}
		return ms(b.DigMs) * time.Duration(scale)
	case executor.KindDigDown, executor.KindTunnel, executor.KindDigShelter, executor.KindBuildShelter:
		return ms(b.DigMs)
	default:
		return ms(b.DefaultMs)
	}
}
