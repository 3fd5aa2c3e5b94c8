package policy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/cwbudde/dicesim/internal/opt"
)

func logger() *slog.Logger { return slog.With("component", "policy") }

// Method selects the search strategy.
type Method string

const (
	MethodSPG    Method = "spg"
	MethodMayfly Method = "mayfly"
	MethodHybrid Method = "hybrid"
)

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodSPG, MethodMayfly, MethodHybrid:
		return m, nil
	case "":
		return MethodSPG, nil
	}
	return "", &dice.ConfigurationError{Field: "optimizer.method", Reason: fmt.Sprintf("unknown method %q", s)}
}

// Settings controls the welfare search.
type Settings struct {
	Method        Method
	MaxIterations int           // per start, local stage
	TimeLimit     time.Duration // whole run; zero means unlimited
	FTol          float64       // relative welfare change
	XTol          float64       // largest control change
	GTol          float64       // projected-gradient norm
	Patience      int
	Workers       int // gradient goroutines; zero means GOMAXPROCS

	// Global stage (mayfly, hybrid)
	Seed             int64
	Population       int
	GlobalIterations int

	// Starts are tried before the built-in baseline and ramp starts.
	Starts []dice.Trajectory

	OnIteration func(Progress)
}

// welfareLambdaMax caps the spectral step of the local search. The scaled
// welfare gradient carries finite-difference noise near 1e-9, so a larger
// cap lets flat directions such as late savings rates drift by more than
// XTol on every iteration.
const welfareLambdaMax = 1e5

// certifyTol is the relative welfare gap within which a converged start
// certifies a better unconverged one.
const certifyTol = 1e-6

// DefaultSettings returns the settings used by the driver.
func DefaultSettings() Settings {
	return Settings{
		Method:           MethodSPG,
		MaxIterations:    3000,
		FTol:             1e-9,
		XTol:             1e-4,
		GTol:             1e-7,
		Patience:         3,
		Seed:             42,
		Population:       30,
		GlobalIterations: 100,
	}
}

// Progress is reported after every optimizer iteration.
type Progress struct {
	Start       int
	Iteration   int
	Welfare     float64
	Decision    []float64 // full decision vector, see DecisionVector
	Evaluations int
}

// Result is the outcome of Optimize.
type Result struct {
	Controls        dice.Trajectory
	States          []dice.State
	Welfare         float64
	BaselineWelfare float64
	Iterations      int
	Evaluations     int
	Infeasible      int
	Converged       bool
	Reason          string
}

// BaselineTrajectory is the no-abatement trajectory at the initial savings
// rate, the reference every optimized result is compared against.
func BaselineTrajectory(p *dice.Parameters, ic dice.InitialConditions) dice.Trajectory {
	return dice.ConstantTrajectory(p.Horizon(), ic.Savings, 0)
}

// RampTrajectory raises the control rate from zero towards limit_miu over
// the first two thirds of the horizon and holds it there.
func RampTrajectory(p *dice.Parameters, savings float64) dice.Trajectory {
	h := p.Horizon()
	ramp := max(2, 2*h/3)
	tr := make(dice.Trajectory, h)
	for i := range tr {
		r := math.Min(1, float64(i)/float64(ramp-1))
		tr[i] = dice.Controls{
			Savings:     savings,
			ControlRate: p.LimitMiu() * math.Pow(r, 1-r),
		}
	}
	return tr
}

// Optimize searches for the trajectory maximising welfare within bounds.
// Every start is searched locally and the best feasible result wins; since
// the baseline is one of the starts and the local search never accepts a
// worse point, the result is never below the (clamped) baseline. Global
// optimality is not guaranteed.
//
// When the budget runs out before the tolerances are met, the best result
// is returned together with a *dice.ConvergenceFailure. Cancelling ctx
// aborts the search with ctx.Err(), returning the best result so far when
// one exists.
func Optimize(ctx context.Context, p *dice.Parameters, ic dice.InitialConditions, bounds *Bounds, settings Settings) (*Result, error) {
	if bounds == nil {
		bounds = NewBounds(p)
	}
	if err := bounds.Validate(p); err != nil {
		return nil, err
	}
	if err := ic.Validate(p); err != nil {
		return nil, err
	}
	if settings.Method == "" {
		settings.Method = MethodSPG
	}
	if settings.Workers <= 0 {
		settings.Workers = runtime.GOMAXPROCS(0)
	}

	baseline := clampTrajectory(BaselineTrajectory(p, ic), bounds)
	baselineWelfare, err := dice.Evaluate(p, baseline, ic)
	if err != nil {
		logger().Warn("Baseline trajectory infeasible", "error", err)
		baselineWelfare = math.Inf(-1)
	}

	scale := 1.0
	if !math.IsInf(baselineWelfare, 0) && baselineWelfare != 0 {
		scale = math.Abs(baselineWelfare)
	}
	obj := NewObjective(p, ic, bounds, scale)

	starts := make([]dice.Trajectory, 0, len(settings.Starts)+2)
	for _, s := range settings.Starts {
		if len(s) != p.Horizon() {
			return nil, &dice.ConfigurationError{
				Field:  "starts",
				Reason: fmt.Sprintf("trajectory has %d periods, want %d", len(s), p.Horizon()),
			}
		}
		starts = append(starts, clampTrajectory(s, bounds))
	}
	starts = append(starts, baseline, clampTrajectory(RampTrajectory(p, ic.Savings), bounds))

	logger().Info("Starting welfare optimization",
		"method", settings.Method,
		"horizon", p.Horizon(),
		"free_variables", obj.Dim(),
		"starts", len(starts),
		"baseline_welfare", baselineWelfare,
	)

	began := time.Now()
	lower, upper := obj.Box()

	var (
		best        *opt.Result
		bestStart   = -1
		converged   *opt.Result
		timedOut    bool
		iterations  int
		evaluations int
	)
	for k, start := range starts {
		budget := settings.TimeLimit
		if budget > 0 {
			budget -= time.Since(began)
			if budget <= 0 {
				if best == nil {
					best = &opt.Result{F: math.Inf(1)}
				}
				best.Converged = false
				best.Reason = "time limit reached"
				timedOut = true
				break
			}
		}

		optimizer := newOptimizer(settings, budget, k, obj)
		x0 := obj.Reduce(EncodeTrajectory(start))
		res, err := optimizer.Run(ctx, obj.Eval, x0, lower, upper)
		if res != nil {
			iterations += res.Iterations
			evaluations += res.Evaluations
			if best == nil || res.F < best.F {
				best, bestStart = res, k
			}
			if res.Converged && (converged == nil || res.F < converged.F) {
				converged = res
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				logger().Info("Optimization cancelled", "start", k, "error", err)
				return finishResult(p, ic, obj, best, baselineWelfare, iterations, evaluations), fmt.Errorf("optimize: %w", err)
			}
			return nil, fmt.Errorf("optimize start %d: %w", k, err)
		}
		logger().Info("Start finished",
			"start", k,
			"welfare", obj.Welfare(res.F),
			"iterations", res.Iterations,
			"converged", res.Converged,
			"reason", res.Reason,
		)
	}

	// A start that ran out of iterations while drifting along a flat ridge
	// still counts as converged when a converged start reached the same
	// welfare.
	if !timedOut && certifies(converged, best) {
		logger().Info("Best start certified by converged start",
			"best", obj.Welfare(best.F),
			"converged", obj.Welfare(converged.F),
		)
		best.Converged = true
		best.Reason = "within welfare tolerance of a converged start"
	}

	result := finishResult(p, ic, obj, best, baselineWelfare, iterations, evaluations)
	if result == nil {
		return nil, &dice.ConvergenceFailure{Iterations: iterations, Welfare: math.Inf(-1), Reason: "no feasible trajectory found"}
	}

	logger().Info("Welfare optimization complete",
		"welfare", result.Welfare,
		"baseline_welfare", baselineWelfare,
		"best_start", bestStart,
		"iterations", iterations,
		"evaluations", evaluations,
		"infeasible_trials", result.Infeasible,
		"converged", result.Converged,
		"elapsed", time.Since(began),
	)

	if !result.Converged {
		return result, &dice.ConvergenceFailure{Iterations: iterations, Welfare: result.Welfare, Reason: result.Reason}
	}
	return result, nil
}

func newOptimizer(s Settings, budget time.Duration, start int, obj *Objective) opt.Optimizer {
	spgConfig := opt.SPGConfig{
		MaxIterations: s.MaxIterations,
		TimeLimit:     budget,
		GTol:          s.GTol,
		LambdaMax:     welfareLambdaMax,
		Convergence: opt.ConvergenceConfig{
			Enabled:  s.Patience > 0,
			Patience: s.Patience,
			FTol:     s.FTol,
			XTol:     s.XTol,
		},
		Gradient: opt.Gradient{Step: opt.DefaultGradientStep, Workers: s.Workers},
	}
	if s.OnIteration != nil {
		spgConfig.OnIteration = func(pr opt.Progress) {
			s.OnIteration(Progress{
				Start:       start,
				Iteration:   pr.Iteration,
				Welfare:     obj.Welfare(pr.F),
				Decision:    obj.Expand(pr.X).Data,
				Evaluations: pr.Evaluations,
			})
		}
	}
	local := opt.NewSPG(spgConfig)

	switch s.Method {
	case MethodMayfly:
		return opt.NewMayfly(s.GlobalIterations, s.Population, s.Seed+int64(start)).WithXTol(s.XTol)
	case MethodHybrid:
		return opt.NewHybrid(opt.NewMayfly(s.GlobalIterations, s.Population, s.Seed+int64(start)).WithXTol(s.XTol), local)
	}
	return local
}

func finishResult(p *dice.Parameters, ic dice.InitialConditions, obj *Objective, best *opt.Result, baseline float64, iterations, evaluations int) *Result {
	if best == nil || best.X == nil || math.IsInf(best.F, 1) {
		return nil
	}
	controls := obj.Expand(best.X).Trajectory()
	states, err := dice.Run(p, controls, ic)
	if err != nil {
		logger().Error("Best trajectory failed to replay", "error", err)
		return nil
	}
	return &Result{
		Controls:        controls,
		States:          states,
		Welfare:         dice.Welfare(states),
		BaselineWelfare: baseline,
		Iterations:      iterations,
		Evaluations:     evaluations,
		Infeasible:      obj.Infeasible(),
		Converged:       best.Converged,
		Reason:          best.Reason,
	}
}

// certifies reports whether the converged result c vouches for the
// unconverged best result b.
func certifies(c, b *opt.Result) bool {
	if c == nil || b == nil || b.Converged {
		return false
	}
	return c.F-b.F <= certifyTol*math.Abs(b.F)
}

func clampTrajectory(tr dice.Trajectory, b *Bounds) dice.Trajectory {
	dv := EncodeTrajectory(tr)
	b.ClampVector(dv.Data)
	return dv.Trajectory()
}
