package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwbudde/dicesim/internal/config"
	"github.com/cwbudde/dicesim/internal/csvio"
	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/cwbudde/dicesim/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// shortRun keeps optimizer runs in tests to a few hundred milliseconds.
const shortRun = `horizon: 6
optimizer:
  max_iterations: 40
  ftol: 1.0e-4
  xtol: 1
  patience: 2
  workers: 2
bounds:
  miu_tail_periods: 1
checkpoint:
  interval: 5
`

// resetFlags restores every flag of the command tree to its default, since
// the flag variables are package globals shared between executions.
func resetFlags(t *testing.T) {
	t.Helper()
	reset := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Value.Type() == "stringToString" {
				runSet = map[string]string{}
			} else if err := f.Value.Set(f.DefValue); err != nil {
				t.Fatalf("reset --%s: %v", f.Name, err)
			}
			f.Changed = false
		})
	}
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		reset(c.PersistentFlags())
		reset(c.Flags())
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}

// execute runs the CLI with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)
	t.Cleanup(func() { resetFlags(t) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func readStates(t *testing.T, path string) []dice.State {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	states, err := csvio.ReadStates(f)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return states
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"configuration", &dice.ConfigurationError{Field: "prstp", Reason: "negative"}, exitConfiguration},
		{"wrapped configuration", fmt.Errorf("input.csv: %w", &dice.ConfigurationError{Field: "x"}), exitConfiguration},
		{"incompatible checkpoint", &store.CompatibilityError{Field: "Preset"}, exitConfiguration},
		{"domain", &dice.DomainError{Period: 3, Variable: "capital"}, exitDomain},
		{"convergence", fmt.Errorf("optimize: %w", &dice.ConvergenceFailure{Iterations: 10}), exitConvergence},
		{"unexpected", errors.New("disk full"), exitUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestDriver_Simulate(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "input.csv", "key,value\nhorizon,6\nscc,true\n# comment\nprstp,0.015\n")
	dest := filepath.Join(dir, "output.csv")

	out, err := execute(t, source, dest)
	if err != nil {
		t.Fatalf("driver failed: %v", err)
	}
	if !strings.Contains(out, "Wrote "+dest) {
		t.Errorf("missing summary line in %q", out)
	}

	states := readStates(t, dest)
	if len(states) != 7 {
		t.Fatalf("got %d states, want 7", len(states))
	}
	if states[1].SocialCostOfCarbon <= 0 {
		t.Errorf("social cost of carbon = %g, want > 0", states[1].SocialCostOfCarbon)
	}
}

func TestDriver_FlagsOverrideInput(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "input.csv", "horizon,6\n")
	dest := filepath.Join(dir, "output.csv")

	if _, err := execute(t, source, dest, "--horizon", "4"); err != nil {
		t.Fatalf("driver failed: %v", err)
	}
	if got := len(readStates(t, dest)); got != 5 {
		t.Errorf("got %d states, want 5", got)
	}
}

func TestDriver_ConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "output.csv")

	tests := []struct {
		name string
		args []string
	}{
		{"missing argument", []string{writeFile(t, dir, "ok.csv", "horizon,6\n")}},
		{"missing source", []string{filepath.Join(dir, "absent.csv"), dest}},
		{"unknown key", []string{writeFile(t, dir, "unknown.csv", "bogus,1\n"), dest}},
		{"bad number", []string{writeFile(t, dir, "nan.csv", "prstp,abc\n"), dest}},
		{"bad mode", []string{writeFile(t, dir, "mode.csv", "mode,guess\n"), dest}},
		{"bad set flag", []string{writeFile(t, dir, "set.csv", "horizon,6\n"), dest, "--set", "prstp=x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if got := exitCode(err); got != exitConfiguration {
				t.Errorf("exit code = %d (%v), want %d", got, err, exitConfiguration)
			}
			if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
				t.Errorf("output written despite configuration error")
			}
		})
	}
}

func TestDriver_OptimizeAndResume(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	cfgPath := writeFile(t, dir, "run.yaml", shortRun)
	source := writeFile(t, dir, "input.csv", "mode,optimize\n")
	dest := filepath.Join(dir, "optimized.csv")

	_, err := execute(t, source, dest, "--config", cfgPath, "--data-dir", dataDir)
	if err != nil && !errors.Is(err, dice.ErrConvergence) {
		t.Fatalf("optimize failed: %v", err)
	}
	if got := len(readStates(t, dest)); got != 7 {
		t.Fatalf("got %d states, want 7", got)
	}

	st, err := store.NewFSStore(dataDir)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	infos, err := st.ListCheckpoints()
	if err != nil || len(infos) != 1 {
		t.Fatalf("expected one checkpoint, got %v (%v)", infos, err)
	}
	first := infos[0]
	if first.Horizon != 6 || first.Iteration == 0 {
		t.Errorf("unexpected checkpoint %+v", first)
	}
	if _, err := st.OpenResults(first.JobID); err != nil {
		t.Errorf("results not stored: %v", err)
	}

	resumed := filepath.Join(dir, "resumed.csv")
	_, err = execute(t, "resume", first.JobID, resumed, "--data-dir", dataDir, "--max-iterations", "10")
	if err != nil && !errors.Is(err, dice.ErrConvergence) {
		t.Fatalf("resume failed: %v", err)
	}
	if got := len(readStates(t, resumed)); got != 7 {
		t.Fatalf("got %d resumed states, want 7", got)
	}

	after, err := st.LoadCheckpoint(first.JobID)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if after.Iteration <= first.Iteration {
		t.Errorf("resumed iteration %d does not continue from %d", after.Iteration, first.Iteration)
	}
}

func TestResume_UnknownJob(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "resume", "missing", filepath.Join(dir, "out.csv"), "--data-dir", dir)
	if !errors.Is(err, dice.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestResume_IncompatibleConfig(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	cfg, err := config.Parse([]byte(shortRun))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.Mode = config.ModeOptimize
	decision := make([]float64, 12)
	for i := range decision {
		decision[i] = .2
	}
	if err := st.SaveCheckpoint("job", store.NewCheckpoint("job", decision, 10, 9, 5, cfg)); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	other := writeFile(t, dir, "other.yaml", strings.Replace(shortRun, "horizon: 6", "horizon: 8", 1))
	_, err = execute(t, "resume", "job", filepath.Join(dir, "out.csv"), "--data-dir", dir, "--config", other)
	var ce *store.CompatibilityError
	if !errors.As(err, &ce) || ce.Field != "Horizon" {
		t.Errorf("expected horizon compatibility error, got %v", err)
	}
}

func TestParamsCommand(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "params.csv")

	out, err := execute(t, "params", dest, "--set", "prstp=0.01")
	if err != nil {
		t.Fatalf("params failed: %v", err)
	}
	if !strings.Contains(out, "preset "+dice.DefaultPreset) {
		t.Errorf("unexpected output %q", out)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	cfg := config.DefaultConfig()
	if err := csvio.ReadInput(f, cfg); err != nil {
		t.Fatalf("written parameters are not a valid input: %v", err)
	}
	if got := cfg.Model.Scalars["prstp"]; got != .01 {
		t.Errorf("prstp = %g, want 0.01", got)
	}
}

func TestPresetsCommand(t *testing.T) {
	out, err := execute(t, "presets")
	if err != nil {
		t.Fatalf("presets failed: %v", err)
	}
	names, err := dice.Presets()
	if err != nil {
		t.Fatalf("Presets failed: %v", err)
	}
	for _, name := range names {
		if !strings.Contains(out, name) {
			t.Errorf("preset %s missing from %q", name, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "dicesim version "+version) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestBaselineWelfare_InfeasibleBaselineIsLogged(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	p, err := dice.Build(dice.Overrides{Scalars: map[string]float64{"horizon": 4}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	ic := dice.DefaultInitialConditions()
	if w := baselineWelfare(p, ic); w == 0 || logs.Len() != 0 {
		t.Errorf("feasible baseline: welfare %g, logs %q", w, logs.String())
	}

	// A tiny fossil limit is exceeded in the first period.
	p, err = dice.Build(dice.Overrides{Scalars: map[string]float64{"horizon": 4, "fosslim": 1}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if w := baselineWelfare(p, ic); w != 0 {
		t.Errorf("infeasible baseline welfare = %g, want 0", w)
	}
	if !strings.Contains(logs.String(), "Baseline trajectory infeasible") {
		t.Errorf("infeasible baseline not logged: %q", logs.String())
	}
}
