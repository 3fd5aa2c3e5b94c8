package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/cwbudde/dicesim/internal/config"
	"github.com/cwbudde/dicesim/internal/csvio"
	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
	logger    *slog.Logger

	configPath string
)

// Driver flags. They override the config file and the input CSV.
var (
	runMode            string
	runOptimize        bool
	runPreset          string
	runHorizon         int
	runSCC             bool
	runSet             map[string]string
	runMethod          string
	runMaxIterations   int
	runTimeLimit       time.Duration
	runSeed            int64
	runWorkers         int
	runDataDir         string
	checkpointInterval int
	traceDecisions     bool
)

var rootCmd = &cobra.Command{
	Use:   "dicesim <source.csv> <dest.csv>",
	Short: "DICE climate-economy simulation and welfare optimization",
	Long: `dicesim runs a DICE2007-family integrated assessment model. It reads
parameter overrides, initial conditions and the run mode from a key,value CSV
file, then either simulates a fixed control trajectory or searches for the
savings and emissions-control rates that maximise discounted welfare, and
writes one CSV row per period.

Exit codes: 0 success, 1 unexpected failure, 2 configuration error,
3 non-physical state, 4 optimizer did not converge (results still written).`,
	Args:          driverArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger(cmd.OutOrStdout())
	},
	RunE: runDriver,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML run configuration")

	f := rootCmd.Flags()
	f.StringVar(&runMode, "mode", "", "Run mode: simulate, optimize")
	f.BoolVar(&runOptimize, "optimize", false, "Shorthand for --mode optimize")
	f.StringVar(&runPreset, "preset", "", "Calibration preset")
	f.IntVar(&runHorizon, "horizon", 0, "Number of decision periods")
	f.BoolVar(&runSCC, "scc", false, "Compute the social cost of carbon column")
	f.StringToStringVar(&runSet, "set", nil, "Scalar parameter overrides (key=value,...)")
	f.StringVar(&runMethod, "method", "", "Optimizer: spg, mayfly, hybrid")
	f.IntVar(&runMaxIterations, "max-iterations", 0, "Iterations per optimizer start")
	f.DurationVar(&runTimeLimit, "time-limit", 0, "Wall-clock budget of the optimizer")
	f.Int64Var(&runSeed, "seed", 0, "Random seed of the global search")
	f.IntVar(&runWorkers, "workers", 0, "Gradient goroutines (0 = GOMAXPROCS)")
	f.StringVar(&runDataDir, "data-dir", "", "Checkpoint directory for optimizer runs (empty = none)")
	f.IntVar(&checkpointInterval, "checkpoint-interval", 0, "Iterations between checkpoints")
	f.BoolVar(&traceDecisions, "trace-decisions", false, "Store the decision vector in every trace entry")
}

// driverArgs reports a wrong argument count as a configuration error.
func driverArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(2)(cmd, args); err != nil {
		return &dice.ConfigurationError{Field: "arguments", Reason: err.Error() + "; usage: " + cmd.UseLine()}
	}
	return nil
}

// setupLogger installs the slog default from --log-level and --log-format.
func setupLogger(w io.Writer) {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if logFormat == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// loadConfig returns the --config file, or the defaults without one.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

// applyDriverFlags layers the explicitly set driver flags over cfg.
func applyDriverFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = runMode
	}
	if flags.Changed("optimize") && runOptimize {
		cfg.Mode = config.ModeOptimize
	}
	if flags.Changed("preset") {
		cfg.Preset = runPreset
	}
	if flags.Changed("horizon") {
		cfg.Horizon = runHorizon
	}
	if flags.Changed("scc") {
		cfg.SCC = runSCC
	}
	if len(runSet) > 0 && cfg.Model.Scalars == nil {
		cfg.Model.Scalars = make(map[string]float64, len(runSet))
	}
	for key, raw := range runSet {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return &dice.ConfigurationError{Field: key, Reason: fmt.Sprintf("--set value %q is not a number", raw)}
		}
		cfg.Model.Scalars[key] = v
	}
	applyOptimizerFlags(cmd, cfg)
	return nil
}

// applyOptimizerFlags layers the optimizer and checkpoint flags over cfg.
func applyOptimizerFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("method") {
		cfg.Optimizer.Method = runMethod
	}
	if flags.Changed("max-iterations") {
		cfg.Optimizer.MaxIterations = runMaxIterations
	}
	if flags.Changed("time-limit") {
		cfg.Optimizer.TimeLimit = runTimeLimit
	}
	if flags.Changed("seed") {
		cfg.Optimizer.Seed = runSeed
	}
	if flags.Changed("workers") {
		cfg.Optimizer.Workers = runWorkers
	}
	if flags.Changed("data-dir") {
		cfg.Checkpoint.Dir = runDataDir
	}
	if flags.Changed("checkpoint-interval") {
		cfg.Checkpoint.Interval = checkpointInterval
	}
	if flags.Changed("trace-decisions") {
		cfg.Checkpoint.TraceDecisions = traceDecisions
	}
}

func runDriver(cmd *cobra.Command, args []string) error {
	source, dest := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(source)
	if err != nil {
		return &dice.ConfigurationError{Field: "source", Reason: err.Error()}
	}
	err = csvio.ReadInput(f, cfg)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}

	if err := applyDriverFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.Info("Starting run", "source", source, "dest", dest, "mode", cfg.Mode, "preset", cfg.Preset)

	out, runErr := executeRun(cmd.Context(), cfg, runOptions{})
	return finishRun(cmd, dest, out, runErr)
}
