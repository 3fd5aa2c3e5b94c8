package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/cwbudde/dicesim/internal/dice"
)

type column struct {
	name string
	get  func(*dice.State) *float64
}

// intColumn adapts the integer period and year fields.
type intColumn struct {
	name string
	get  func(*dice.State) *int
}

var indexColumns = []intColumn{
	{"period", func(s *dice.State) *int { return &s.Period }},
	{"year", func(s *dice.State) *int { return &s.Year }},
}

var stateColumns = []column{
	{"capital", func(s *dice.State) *float64 { return &s.Capital }},
	{"population", func(s *dice.State) *float64 { return &s.Population }},
	{"tfp", func(s *dice.State) *float64 { return &s.Productivity }},
	{"carbon_intensity", func(s *dice.State) *float64 { return &s.CarbonIntensity }},
	{"gross_output", func(s *dice.State) *float64 { return &s.GrossOutput }},
	{"damages", func(s *dice.State) *float64 { return &s.Damages }},
	{"abatement_cost", func(s *dice.State) *float64 { return &s.AbatementCost }},
	{"output", func(s *dice.State) *float64 { return &s.Output }},
	{"savings", func(s *dice.State) *float64 { return &s.Savings }},
	{"miu", func(s *dice.State) *float64 { return &s.ControlRate }},
	{"emissions_industrial", func(s *dice.State) *float64 { return &s.EmissionsIndustrial }},
	{"emissions_land", func(s *dice.State) *float64 { return &s.EmissionsLand }},
	{"emissions", func(s *dice.State) *float64 { return &s.Emissions }},
	{"cumulative_emissions", func(s *dice.State) *float64 { return &s.CumulativeEmissions }},
	{"mass_atmosphere", func(s *dice.State) *float64 { return &s.MassAtmosphere }},
	{"mass_upper", func(s *dice.State) *float64 { return &s.MassUpper }},
	{"mass_lower", func(s *dice.State) *float64 { return &s.MassLower }},
	{"forcing", func(s *dice.State) *float64 { return &s.Forcing }},
	{"temp_atmosphere", func(s *dice.State) *float64 { return &s.TempAtmosphere }},
	{"temp_lower", func(s *dice.State) *float64 { return &s.TempLower }},
	{"investment", func(s *dice.State) *float64 { return &s.Investment }},
	{"consumption", func(s *dice.State) *float64 { return &s.Consumption }},
	{"consumption_per_capita", func(s *dice.State) *float64 { return &s.ConsumptionPerCapita }},
	{"utility", func(s *dice.State) *float64 { return &s.Utility }},
	{"discount_factor", func(s *dice.State) *float64 { return &s.DiscountFactor }},
	{"discounted_utility", func(s *dice.State) *float64 { return &s.DiscountedUtility }},
	{"carbon_price", func(s *dice.State) *float64 { return &s.CarbonPrice }},
	{"scc", func(s *dice.State) *float64 { return &s.SocialCostOfCarbon }},
}

// Header returns the output column names.
func Header() []string {
	h := make([]string, 0, len(indexColumns)+len(stateColumns))
	for _, c := range indexColumns {
		h = append(h, c.name)
	}
	for _, c := range stateColumns {
		h = append(h, c.name)
	}
	return h
}

// WriteStates writes a header and one row per state.
func WriteStates(w io.Writer, states []dice.State) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	row := make([]string, 0, len(indexColumns)+len(stateColumns))
	for i := range states {
		s := &states[i]
		row = row[:0]
		for _, c := range indexColumns {
			row = append(row, strconv.Itoa(*c.get(s)))
		}
		for _, c := range stateColumns {
			row = append(row, formatFloat(*c.get(s)))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadStates parses a file written by WriteStates. Columns are matched by
// name; unknown columns are ignored.
func ReadStates(r io.Reader) ([]dice.State, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	ints := make(map[int]intColumn)
	floatsAt := make(map[int]column)
	for i, name := range header {
		for _, c := range indexColumns {
			if c.name == name {
				ints[i] = c
			}
		}
		for _, c := range stateColumns {
			if c.name == name {
				floatsAt[i] = c
			}
		}
	}

	var states []dice.State
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return states, nil
		}
		if err != nil {
			return nil, err
		}
		var s dice.State
		for i, field := range rec {
			if c, ok := ints[i]; ok {
				v, err := strconv.Atoi(field)
				if err != nil {
					return nil, fmt.Errorf("row %d column %s: %w", len(states)+1, c.name, err)
				}
				*c.get(&s) = v
			}
			if c, ok := floatsAt[i]; ok {
				v, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return nil, fmt.Errorf("row %d column %s: %w", len(states)+1, c.name, err)
				}
				*c.get(&s) = v
			}
		}
		states = append(states, s)
	}
}

// WriteParameters writes the full calibration of p and the initial
// conditions ic as an input file that ReadInput accepts.
func WriteParameters(w io.Writer, p *dice.Parameters, ic dice.InitialConditions) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"key", "value"}); err != nil {
		return err
	}

	s := p.Scalars()
	if err := cw.Write([]string{KeyCalibration, string(s.Calibration)}); err != nil {
		return err
	}
	if err := cw.Write([]string{KeyDamagesModel, string(s.DamagesModel)}); err != nil {
		return err
	}
	for _, k := range dice.ScalarKeys() {
		v, _ := s.ScalarValue(k)
		if err := cw.Write([]string{k, formatFloat(v)}); err != nil {
			return err
		}
	}
	for _, k := range dice.PathNames() {
		path := p.Path(k)
		row := make([]string, 0, len(path)+1)
		row = append(row, k)
		for _, v := range path {
			row = append(row, formatFloat(v))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	for _, k := range dice.InitialKeys() {
		v, _ := ic.Value(k)
		if err := cw.Write([]string{k, formatFloat(v)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
