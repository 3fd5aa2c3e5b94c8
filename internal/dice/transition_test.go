package dice

import (
	"errors"
	"math"
	"testing"
)

func TestSetup_InitialPeriod(t *testing.T) {
	p := Default()
	s, err := Setup(p, DefaultInitialConditions())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if s.Period != 0 || s.Year != 2005 {
		t.Errorf("period/year = %d/%d, want 0/2005", s.Period, s.Year)
	}
	if s.GrossOutput < 50 || s.GrossOutput > 60 {
		t.Errorf("gross output = %f trillion, want about 55.7", s.GrossOutput)
	}
	if s.Emissions < 8 || s.Emissions > 9 {
		t.Errorf("emissions = %f GtC/yr, want about 8.5", s.Emissions)
	}
	if s.Emissions != s.EmissionsIndustrial+s.EmissionsLand {
		t.Error("total emissions do not add up")
	}
	if math.Abs(s.Output+s.Damages+s.AbatementCost-s.GrossOutput) > 1e-9 {
		t.Error("output, damages and abatement cost do not add up to gross output")
	}
	if math.Abs(s.Consumption+s.Investment-s.Output) > 1e-9 {
		t.Error("consumption and investment do not add up to output")
	}
	if s.Savings != .22 || s.ControlRate != .005 {
		t.Errorf("period-0 controls = %v/%v, want .22/.005", s.Savings, s.ControlRate)
	}
}

func TestSetup_RejectsInitialConditions(t *testing.T) {
	p := Default()
	tests := []struct {
		name string
		edit func(*InitialConditions)
	}{
		{"negative capital", func(ic *InitialConditions) { ic.Capital = -1 }},
		{"negative ocean carbon", func(ic *InitialConditions) { ic.MassLower = -5 }},
		{"savings above one", func(ic *InitialConditions) { ic.Savings = 1.2 }},
		{"miu above limit", func(ic *InitialConditions) { ic.ControlRate = 1.5 }},
		{"NaN temperature", func(ic *InitialConditions) { ic.TempAtmosphere = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ic := DefaultInitialConditions()
			tt.edit(&ic)
			if _, err := Setup(p, ic); !errors.Is(err, ErrConfiguration) {
				t.Errorf("Setup error = %v, want configuration error", err)
			}
		})
	}
}

func TestStep_AdvancesStocks(t *testing.T) {
	p := Default()
	s0, err := Setup(p, DefaultInitialConditions())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	s1, err := Step(s0, Controls{Savings: .22, ControlRate: .005}, p)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if s1.Period != 1 || s1.Year != 2015 {
		t.Errorf("period/year = %d/%d, want 1/2015", s1.Period, s1.Year)
	}

	wantK := math.Pow(.9, 10)*s0.Capital + 10*s0.Investment
	if math.Abs(s1.Capital-wantK) > 1e-9 {
		t.Errorf("capital = %f, want %f", s1.Capital, wantK)
	}

	total0 := s0.MassAtmosphere + s0.MassUpper + s0.MassLower
	total1 := s1.MassAtmosphere + s1.MassUpper + s1.MassLower
	if math.Abs(total1-total0-10*s0.Emissions) > 1e-6 {
		t.Errorf("carbon not conserved: %f -> %f with %f emitted", total0, total1, 10*s0.Emissions)
	}
	if s1.TempAtmosphere <= s0.TempAtmosphere {
		t.Errorf("atmospheric temperature did not rise: %f -> %f", s0.TempAtmosphere, s1.TempAtmosphere)
	}
	if s1.CumulativeEmissions != 10*s0.EmissionsIndustrial {
		t.Errorf("cumulative emissions = %f, want %f", s1.CumulativeEmissions, 10*s0.EmissionsIndustrial)
	}
}

func TestStep_ControlMonotonicity(t *testing.T) {
	p := Default()
	s0, err := Setup(p, DefaultInitialConditions())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	prev, err := Step(s0, Controls{Savings: .22, ControlRate: 0}, p)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	rates := []float64{0, .1, .25, .5, .75, 1}
	for i := 1; i < len(rates); i++ {
		lo, err := Step(prev, Controls{Savings: .22, ControlRate: rates[i-1]}, p)
		if err != nil {
			t.Fatalf("Step(miu=%g) failed: %v", rates[i-1], err)
		}
		hi, err := Step(prev, Controls{Savings: .22, ControlRate: rates[i]}, p)
		if err != nil {
			t.Fatalf("Step(miu=%g) failed: %v", rates[i], err)
		}
		if hi.Emissions >= lo.Emissions {
			t.Errorf("emissions not decreasing: miu %g -> %f, miu %g -> %f", rates[i-1], lo.Emissions, rates[i], hi.Emissions)
		}
		if hi.Output > lo.Output {
			t.Errorf("output increased: miu %g -> %f, miu %g -> %f", rates[i-1], lo.Output, rates[i], hi.Output)
		}
		if hi.CarbonPrice <= lo.CarbonPrice {
			t.Errorf("carbon price not increasing with miu %g", rates[i])
		}
	}
}

func TestStep_RejectsOutOfBoundControls(t *testing.T) {
	p := Default()
	s0, err := Setup(p, DefaultInitialConditions())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	tests := []struct {
		name     string
		controls Controls
		variable string
	}{
		{"negative savings", Controls{Savings: -.1, ControlRate: .1}, "savings"},
		{"savings above one", Controls{Savings: 1.1, ControlRate: .1}, "savings"},
		{"negative miu", Controls{Savings: .2, ControlRate: -.01}, "miu"},
		{"miu above limit", Controls{Savings: .2, ControlRate: 1.01}, "miu"},
		{"NaN miu", Controls{Savings: .2, ControlRate: math.NaN()}, "miu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Step(s0, tt.controls, p)
			var domErr *DomainError
			if !errors.As(err, &domErr) {
				t.Fatalf("Step error = %v, want *DomainError", err)
			}
			if domErr.Variable != tt.variable || domErr.Period != 1 {
				t.Errorf("got variable %q period %d, want %q period 1", domErr.Variable, domErr.Period, tt.variable)
			}
			if !errors.Is(err, ErrDomain) {
				t.Error("error does not match ErrDomain")
			}
		})
	}
}

func TestStep_NegativeCapitalIsDomainError(t *testing.T) {
	p := Default()
	s0, err := Setup(p, DefaultInitialConditions())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	s0.Capital = -500
	s0.Investment = 0

	_, err = Step(s0, Controls{Savings: .2, ControlRate: 0}, p)
	var domErr *DomainError
	if !errors.As(err, &domErr) {
		t.Fatalf("Step error = %v, want *DomainError", err)
	}
	if domErr.Variable != "capital" {
		t.Errorf("variable = %q, want capital", domErr.Variable)
	}
}

func TestStep_BeyondHorizon(t *testing.T) {
	p, err := Build(Overrides{Scalars: map[string]float64{"horizon": 1}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	s0, err := Setup(p, DefaultInitialConditions())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	s1, err := Step(s0, Controls{Savings: .2}, p)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if _, err := Step(s1, Controls{Savings: .2}, p); !errors.Is(err, ErrDomain) {
		t.Errorf("Step past horizon error = %v, want domain error", err)
	}
}

func TestDamageFactor_Models(t *testing.T) {
	s := DefaultScalars()
	for _, model := range []DamagesModel{DamagesDICE2007, DamagesExponential, DamagesTipping, DamagesProductivityFraction} {
		s.DamagesModel = model
		if got := damageFactor(&s, 0); got != 1 {
			t.Errorf("%s: damage factor at 0C = %f, want 1", model, got)
		}
		prev := 1.0
		for temp := 1.0; temp <= 8; temp++ {
			got := damageFactor(&s, temp)
			if got >= prev || got <= 0 {
				t.Errorf("%s: damage factor %f at %gC not decreasing in (0,1)", model, got, temp)
			}
			prev = got
		}
	}
}

func TestStep_ProductivityFractionShiftsDamagesToProductivity(t *testing.T) {
	run := func(model string) []State {
		t.Helper()
		p, err := Build(Overrides{DamagesModel: model})
		if err != nil {
			t.Fatalf("Build(%s) failed: %v", model, err)
		}
		states, err := Run(p, ConstantTrajectory(p.Horizon(), .22, 0), DefaultInitialConditions())
		if err != nil {
			t.Fatalf("Run(%s) failed: %v", model, err)
		}
		return states
	}
	base := run(string(DamagesDICE2007))
	shifted := run(string(DamagesProductivityFraction))

	if shifted[0].Productivity != base[0].Productivity {
		t.Errorf("period-0 productivity = %g, want %g", shifted[0].Productivity, base[0].Productivity)
	}
	for i := 1; i < len(base); i++ {
		if !(shifted[i].Productivity < base[i].Productivity) {
			t.Fatalf("period %d: productivity %g not below exogenous %g", i, shifted[i].Productivity, base[i].Productivity)
		}
	}
	last := len(base) - 1
	if !(shifted[last].Damages/shifted[last].GrossOutput < base[last].Damages/base[last].GrossOutput) {
		t.Error("output damage share not reduced by the productivity share")
	}
}

func TestStep_AdditiveOutputDamages(t *testing.T) {
	p, err := Build(Overrides{DamagesModel: string(DamagesAdditiveOutput)})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	s0, err := Setup(p, DefaultInitialConditions())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	sc := p.Scalars()
	for _, c := range []Controls{{Savings: .22, ControlRate: 0}, {Savings: .3, ControlRate: .4}} {
		s1, err := Step(s0, c, p)
		if err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if math.Abs(s1.Output+s1.Damages+s1.AbatementCost-s1.GrossOutput) > 1e-9 {
			t.Errorf("%+v: output, damages and abatement cost do not add up to gross output", c)
		}
		consumption := s1.GrossOutput * (1 - abatementFraction(p, 1, c.ControlRate)) * (1 - c.Savings)
		want := consumption / (1 + consumption*sc.DamagesAdditive*math.Pow(s1.TempAtmosphere, sc.DamagesExponent))
		if math.Abs(s1.Consumption-want) > 1e-9 {
			t.Errorf("%+v: consumption = %g, want %g", c, s1.Consumption, want)
		}
		if !(s1.Damages > 0) {
			t.Errorf("%+v: damages = %g, want positive", c, s1.Damages)
		}
	}

	sc.DamagesAdditive = 0
	if got := additiveOutput(&sc, 50, .22, 3); math.Abs(got-50) > 1e-12 {
		t.Errorf("output without environmental loss = %g, want 50", got)
	}
}

func TestControlRateForPrice_InvertsCarbonPrice(t *testing.T) {
	p := Default()
	for _, miu := range []float64{.05, .2, .5, .9} {
		for _, period := range []int{1, 10, 40} {
			price := carbonPrice(p, period, miu)
			if got := controlRateForPrice(p, period, price); math.Abs(got-miu) > 1e-9 {
				t.Errorf("period %d: miu %g -> price %g -> miu %g", period, miu, price, got)
			}
		}
	}
	if got := controlRateForPrice(p, 1, 1e6); got != p.LimitMiu() {
		t.Errorf("prohibitive price gives miu %g, want limit %g", got, p.LimitMiu())
	}
}
