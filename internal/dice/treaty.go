package dice

import (
	"encoding/json"
	"math"
	"sort"

	"gopkg.in/yaml.v3"
)

// Treaty is an emissions agreement. The cuts reduce industrial emissions
// below their initial-period level; the participation levels are the share
// of emitters bound by the agreement. Both change in phases of five
// periods, named after the half century each phase reaches.
type Treaty struct {
	Cut2050 float64 `yaml:"e2050" json:"e2050"`
	Cut2100 float64 `yaml:"e2100" json:"e2100"`
	Cut2150 float64 `yaml:"e2150" json:"e2150"`

	Participation2050 float64 `yaml:"p2050" json:"p2050"`
	Participation2100 float64 `yaml:"p2100" json:"p2100"`
	Participation2150 float64 `yaml:"p2150" json:"p2150"`
	ParticipationMax  float64 `yaml:"pmax" json:"pmax"`
}

const (
	treatyPhasePeriods = 5
	treatyPhases       = 4

	// participationConvergence is the per-period rate at which participation
	// moves from one phase level to the next.
	participationConvergence = .25
)

// DefaultTreaty has full participation and no cuts.
func DefaultTreaty() Treaty {
	return Treaty{
		Participation2050: 1,
		Participation2100: 1,
		Participation2150: 1,
		ParticipationMax:  1,
	}
}

// UnmarshalYAML fills omitted fields from DefaultTreaty.
func (t *Treaty) UnmarshalYAML(n *yaml.Node) error {
	type plain Treaty
	v := plain(DefaultTreaty())
	if err := n.Decode(&v); err != nil {
		return err
	}
	*t = Treaty(v)
	return nil
}

// UnmarshalJSON fills omitted fields from DefaultTreaty.
func (t *Treaty) UnmarshalJSON(data []byte) error {
	type plain Treaty
	v := plain(DefaultTreaty())
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = Treaty(v)
	return nil
}

var treatyFields = map[string]func(*Treaty) *float64{
	"e2050": func(t *Treaty) *float64 { return &t.Cut2050 },
	"e2100": func(t *Treaty) *float64 { return &t.Cut2100 },
	"e2150": func(t *Treaty) *float64 { return &t.Cut2150 },
	"p2050": func(t *Treaty) *float64 { return &t.Participation2050 },
	"p2100": func(t *Treaty) *float64 { return &t.Participation2100 },
	"p2150": func(t *Treaty) *float64 { return &t.Participation2150 },
	"pmax":  func(t *Treaty) *float64 { return &t.ParticipationMax },
}

// IsTreatyKey reports whether key names a treaty setting.
func IsTreatyKey(key string) bool {
	_, ok := treatyFields[key]
	return ok
}

// TreatyKeys lists the treaty machine names in sorted order.
func TreatyKeys() []string {
	keys := make([]string, 0, len(treatyFields))
	for k := range treatyFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns the treaty setting behind a machine name.
func (t *Treaty) Set(key string, v float64) error {
	f, ok := treatyFields[key]
	if !ok {
		return configErrorf(key, "is not a treaty setting")
	}
	*f(t) = v
	return nil
}

// Validate checks that every cut leaves a non-negative cap and every
// participation level is a share in (0,1].
func (t Treaty) Validate() error {
	for _, k := range TreatyKeys() {
		v := *treatyFields[k](&t)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return configErrorf("treaty."+k, "must be finite, got %g", v)
		}
		if k[0] == 'e' && v > 1 {
			return configErrorf("treaty."+k, "must be at most 1, got %g", v)
		}
		if k[0] == 'p' && !(v > 0 && v <= 1) {
			return configErrorf("treaty."+k, "must be in (0,1], got %g", v)
		}
	}
	return nil
}

// Participation returns the participation path for periods 0..horizon.
// Within each phase the share approaches the next phase level geometrically,
// starting from the level of the phase before.
func (t Treaty) Participation(horizon int) []float64 {
	levels := [treatyPhases + 1]float64{
		t.Participation2050, t.Participation2050, t.Participation2100,
		t.Participation2150, t.ParticipationMax,
	}
	out := make([]float64, horizon+1)
	for i := range out {
		k := min(i/treatyPhasePeriods, treatyPhases-1)
		j := float64(i - k*treatyPhasePeriods)
		out[i] = levels[k+1] + (levels[k]-levels[k+1])*math.Exp(-participationConvergence*j)
	}
	return out
}

// emissionsCap is the share of initial industrial emissions allowed in
// period t >= 1. The cap of a phase binds from the period after it starts.
func (t Treaty) emissionsCap(period int) float64 {
	caps := [treatyPhases]float64{1, 1 - t.Cut2050, 1 - t.Cut2100, 1 - t.Cut2150}
	return caps[min((period-1)/treatyPhasePeriods, treatyPhases-1)]
}

// controlRate is the abatement that brings uncontrolled industrial emissions
// down to the cap, within [0, limit_miu].
func (t Treaty) controlRate(p *Parameters, period int, initial, uncontrolled float64) float64 {
	c := t.emissionsCap(period)
	if c == 0 {
		return p.s.LimitMiu
	}
	if !(uncontrolled > 0) {
		return 0
	}
	miu := 1 - initial*c/uncontrolled
	return math.Min(math.Max(miu, 0), p.s.LimitMiu)
}

// TreatyTrajectory returns the trajectory that holds industrial emissions at
// the treaty caps with the given savings rates. The participation path of p
// is used as is; build p with t.Participation to apply the treaty schedule.
func TreatyTrajectory(p *Parameters, t Treaty, savings []float64, ic InitialConditions) (Trajectory, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(savings) != p.s.Horizon {
		return nil, configErrorf("savings_path", "has %d entries, want %d", len(savings), p.s.Horizon)
	}
	s, err := Setup(p, ic)
	if err != nil {
		return nil, err
	}
	initial := s.EmissionsIndustrial

	tr := make(Trajectory, len(savings))
	for i, rate := range savings {
		c := Controls{Savings: rate}
		// Gross output does not depend on the control rate of its own
		// period, so a step without abatement gives the uncontrolled
		// emissions.
		free, err := Step(s, c, p)
		if err != nil {
			return nil, err
		}
		c.ControlRate = t.controlRate(p, i+1, initial, free.CarbonIntensity*free.GrossOutput)
		next, err := Step(s, c, p)
		if err != nil {
			return nil, err
		}
		tr[i], s = c, next
	}
	return tr, nil
}
