package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds the empirically tuned constants of the action core. None of
// them are derived; they are kept here so they can be tuned per deployment.
type Tuning struct {
	TickDurationMs int `yaml:"tick_duration_ms"`

	Mining   Mining   `yaml:"mining"`
	Movement Movement `yaml:"movement"`
	Digging  Digging  `yaml:"digging"`
	Hazards  Hazards  `yaml:"hazards"`
	Escape   Escape   `yaml:"escape_water"`
	Combat   Combat   `yaml:"combat"`
	Budgets  Budgets  `yaml:"budgets"`

	HealthEventBuffer int `yaml:"health_event_buffer"`
}

type Mining struct {
	ReachDistance     float64 `yaml:"reach_distance"`
	SearchRadius      int     `yaml:"search_radius"`
	SearchLimit       int     `yaml:"search_limit"`
	ClusterRadius     int     `yaml:"cluster_radius"`
	FailedPositionCap int     `yaml:"failed_position_cap"`
	CollectRadius     float64 `yaml:"collect_radius"`
	SettleDelayMs     int     `yaml:"settle_delay_ms"`
	CollectTimeoutMs  int     `yaml:"collect_timeout_ms"`
}

type Movement struct {
	ApproachTimeoutMs int `yaml:"approach_timeout_ms"`
	RetryTimeoutMs    int `yaml:"retry_timeout_ms"`
	StepTimeoutMs     int `yaml:"step_timeout_ms"`
	WalkFallbackMs    int `yaml:"walk_fallback_ms"`
}

type Digging struct {
	BranchInterval   int `yaml:"branch_interval"`
	BranchLength     int `yaml:"branch_length"`
	MaxStairSteps    int `yaml:"max_stair_steps"`
	ShelterDepth     int `yaml:"shelter_depth"`
	ShelterMinBlocks int `yaml:"shelter_min_blocks"`
}

type Hazards struct {
	ScanRadius int `yaml:"scan_radius"`
}

type Escape struct {
	ClearAbove      int `yaml:"clear_above"`
	SwimTimeoutMs   int `yaml:"swim_timeout_ms"`
	SurfaceRadius   int `yaml:"surface_radius"`
	SurfaceVertical int `yaml:"surface_vertical"`
	PillarMax       int `yaml:"pillar_max"`
}

type Combat struct {
	QuiescenceMs        int     `yaml:"quiescence_ms"`
	DangerDistanceScale float64 `yaml:"danger_distance_scale"`
	ThreatRadius        float64 `yaml:"threat_radius"`
	RecentAttacks       int     `yaml:"recent_attacks"`
	CriticalHealth      float64 `yaml:"critical_health"`
	MeleeRange          float64 `yaml:"melee_range"`
	ChaseTimeoutMs      int     `yaml:"chase_timeout_ms"`
	FleeDistance        int     `yaml:"flee_distance"`
	FleeTimeoutMs       int     `yaml:"flee_timeout_ms"`
	MaxRounds           int     `yaml:"max_rounds"`
}

type Budgets struct {
	MinePerBlockMs int `yaml:"mine_per_block_ms"`
	MineMinMs      int `yaml:"mine_min_ms"`
	DigMs          int `yaml:"dig_ms"`
	DefaultMs      int `yaml:"default_ms"`
}

func Defaults() Tuning {
	return Tuning{
		TickDurationMs: 50,
		Mining: Mining{
			ReachDistance:     4.5,
			SearchRadius:      64,
			SearchLimit:       32,
			ClusterRadius:     4,
			FailedPositionCap: 10,
			CollectRadius:     6,
			SettleDelayMs:     300,
			CollectTimeoutMs:  3000,
		},
		Movement: Movement{
			ApproachTimeoutMs: 15000,
			RetryTimeoutMs:    6000,
			StepTimeoutMs:     5000,
			WalkFallbackMs:    800,
		},
		Digging: Digging{
			BranchInterval:   4,
			BranchLength:     5,
			MaxStairSteps:    128,
			ShelterDepth:     3,
			ShelterMinBlocks: 20,
		},
		Hazards: Hazards{ScanRadius: 1},
		Escape: Escape{
			ClearAbove:      4,
			SwimTimeoutMs:   6000,
			SurfaceRadius:   8,
			SurfaceVertical: 3,
			PillarMax:       8,
		},
		Combat: Combat{
			QuiescenceMs:        5000,
			DangerDistanceScale: 10,
			ThreatRadius:        16,
			RecentAttacks:       10,
			CriticalHealth:      6,
			MeleeRange:          3,
			ChaseTimeoutMs:      3000,
			FleeDistance:        16,
			FleeTimeoutMs:       8000,
			MaxRounds:           120,
		},
		Budgets: Budgets{
			MinePerBlockMs: 8000,
			MineMinMs:      60000,
			DigMs:          120000,
			DefaultMs:      30000,
		},
		HealthEventBuffer: 64,
	}
}

// Load reads a tuning file on top of Defaults(); keys absent from the file
// keep their default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickDurationMs <= 0:
		return fmt.Errorf("tick_duration_ms must be > 0")
	case t.Mining.ReachDistance <= 0:
		return fmt.Errorf("mining.reach_distance must be > 0")
	case t.Mining.FailedPositionCap <= 0:
		return fmt.Errorf("mining.failed_position_cap must be > 0")
	case t.Mining.ClusterRadius < 0:
		return fmt.Errorf("mining.cluster_radius must be >= 0")
	case t.Combat.QuiescenceMs <= 0:
		return fmt.Errorf("combat.quiescence_ms must be > 0")
	case t.Combat.DangerDistanceScale <= 0:
		return fmt.Errorf("combat.danger_distance_scale must be > 0")
	case t.Combat.RecentAttacks <= 0:
		return fmt.Errorf("combat.recent_attacks must be > 0")
	case t.Digging.BranchInterval <= 0 || t.Digging.BranchLength <= 0:
		return fmt.Errorf("digging.branch_interval and branch_length must be > 0")
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (t Tuning) Tick() time.Duration { return ms(t.TickDurationMs) }

func (m Mining) SettleDelay() time.Duration    { return ms(m.SettleDelayMs) }
func (m Mining) CollectTimeout() time.Duration { return ms(m.CollectTimeoutMs) }

func (m Movement) ApproachTimeout() time.Duration { return ms(m.ApproachTimeoutMs) }
func (m Movement) RetryTimeout() time.Duration    { return ms(m.RetryTimeoutMs) }
func (m Movement) StepTimeout() time.Duration     { return ms(m.StepTimeoutMs) }
func (m Movement) WalkFallback() time.Duration    { return ms(m.WalkFallbackMs) }

func (e Escape) SwimTimeout() time.Duration { return ms(e.SwimTimeoutMs) }

func (c Combat) Quiescence() time.Duration   { return ms(c.QuiescenceMs) }
func (c Combat) ChaseTimeout() time.Duration { return ms(c.ChaseTimeoutMs) }
func (c Combat) FleeTimeout() time.Duration  { return ms(c.FleeTimeoutMs) }
