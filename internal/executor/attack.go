package executor

import (
	"context"
	"fmt"

	"voxelhand.ai/internal/combat"
	"voxelhand.ai/internal/world"
)

type AttackRequest struct {
	Entity string `json:"entity,omitempty"`
}

// Attack engages the nearest entity of the given type (nearest hostile when
// empty) with the combat reactor's fight loop.
func (x *Executor) Attack(ctx context.Context, req AttackRequest) Outcome {
	op := x.begin(ctx, KindAttack, req)
	if x.reactor == nil {
		return x.finish(ctx, op, world.Errorf(world.KindBadRequest, "attack", "combat is not configured"), "")
	}
	e, err := x.reactor.AttackNearest(ctx, req.Entity)
	if err != nil {
		return x.finish(ctx, op, err, "")
	}
	op.count("hits", e.Hits)
	op.count("rounds", e.Rounds)
	op.count("ate", e.Ate)
	msg := fmt.Sprintf("%s %s: %s", e.Outcome, e.Target, e.Reason)
	switch e.Outcome {
	case combat.OutcomeWon:
		op.count("kills", 1)
		return x.finish(ctx, op, nil, msg)
	case combat.OutcomeAborted:
		return x.finish(ctx, op, world.Errorf(world.KindAborted, "attack", "aborted"), msg)
	case combat.OutcomeFled, combat.OutcomeAvoided:
		return x.finish(ctx, op, world.Errorf(world.KindCombatPreempted, "attack", "%s", e.Reason), msg)
	default:
		return x.finish(ctx, op, world.Errorf(world.KindUnreachable, "attack", "%s", e.Outcome), msg)
	}
}
