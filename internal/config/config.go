// Package config loads the fuzzing core's runtime knobs from flags and an
// optional on-disk JSON file, schema-versioned with semver so a config
// written by a newer build with an incompatible schema fails loudly
// instead of silently misinterpreting a renamed field.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the config schema this build understands. A loaded
// file whose "schema_version" falls outside SchemaConstraint is rejected.
const SchemaVersion = "1.0.0"

// SchemaConstraint accepts any 1.x schema; a 2.x file signals a breaking
// field change this build doesn't know how to read.
const SchemaConstraint = "^1.0.0"

// Config holds every knob the core consults (spec §6 "Environment/flags").
type Config struct {
	SchemaVersionField string `json:"schema_version"`

	SkipDeterministic bool    `json:"skip_deterministic"`
	NoArith           bool    `json:"no_arith"`
	DisableTrim       bool    `json:"disable_trim"`
	UseSplicing       bool    `json:"use_splicing"`
	VanillaAFL        bool    `json:"vanilla_afl"`
	Bootstrap         bool    `json:"bootstrap"`
	RunWithShadow     bool    `json:"run_with_shadow"`
	UseBranchMask     bool    `json:"use_branch_mask"`
	TrimForBranch     bool    `json:"trim_for_branch"`
	MaxRareBranches   int     `json:"max_rare_branches"`
	RareBranchExp     int     `json:"rare_branch_exp"`
	CustomOnly        bool    `json:"custom_only"`
	ExpandHavoc       bool    `json:"expand_havoc"`
	Bandit            string  `json:"bandit"`
	HavocDiv          float64 `json:"havoc_div"`
}

// Default returns the built-in configuration: rare-branch targeting on,
// splicing on, everything else following AFL++'s conventional defaults.
func Default() Config {
	return Config{
		SchemaVersionField: SchemaVersion,
		UseSplicing:        true,
		UseBranchMask:      true,
		TrimForBranch:      true,
		MaxRareBranches:    32,
		RareBranchExp:      0,
		Bandit:             "ucb1",
		HavocDiv:           1,
	}
}

// LoadFile reads and schema-checks a JSON config file, layering it over Default().
func LoadFile(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := checkSchema(cfg.SchemaVersionField); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func checkSchema(version string) error {
	if version == "" {
		return nil
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("config schema_version %q is not valid semver: %w", version, err)
	}

	c, err := semver.NewConstraint(SchemaConstraint)
	if err != nil {
		return err
	}

	if !c.Check(v) {
		return fmt.Errorf("config schema_version %s is not compatible with this build's %s", version, SchemaConstraint)
	}

	return nil
}

// RegisterFlags binds every core knob onto fs, seeding each flag's default
// from cfg so a config file loaded first still wins unless overridden on
// the command line.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.BoolVar(&cfg.SkipDeterministic, "skip-deterministic", cfg.SkipDeterministic, "skip the deterministic stage and go straight to havoc")
	fs.BoolVar(&cfg.NoArith, "no-arith", cfg.NoArith, "disable the ±arith deterministic sub-stages")
	fs.BoolVar(&cfg.DisableTrim, "disable-trim", cfg.DisableTrim, "disable the standard trimmer")
	fs.BoolVar(&cfg.UseSplicing, "use-splicing", cfg.UseSplicing, "enable the splice stage")
	fs.BoolVar(&cfg.VanillaAFL, "vanilla-afl", cfg.VanillaAFL, "disable rare-branch targeting entirely")
	fs.BoolVar(&cfg.Bootstrap, "bootstrap", cfg.Bootstrap, "bootstrap mode (seed queue only, no mutation); parsed but not consulted by the fuzzing core")
	fs.BoolVar(&cfg.RunWithShadow, "run-with-shadow", cfg.RunWithShadow, "baseline AFL pass alongside rare-branch mode for attribution; parsed but not consulted by the fuzzing core")
	fs.BoolVar(&cfg.UseBranchMask, "use-branch-mask", cfg.UseBranchMask, "constrain mutations to the branch mask in rare-branch mode")
	fs.BoolVar(&cfg.TrimForBranch, "trim-for-branch", cfg.TrimForBranch, "run the branch-preserving trimmer before mutation")
	fs.IntVar(&cfg.MaxRareBranches, "max-rare-branches", cfg.MaxRareBranches, "blacklist cap on rare branches; parsed but not consulted by the fuzzing core (the blacklist is uncapped)")
	fs.IntVar(&cfg.RareBranchExp, "rare-branch-exp", cfg.RareBranchExp, "initial rare_branch_exp; parsed but not consulted by the fuzzing core (the campaign runner starts the selector at 0)")
	fs.BoolVar(&cfg.CustomOnly, "custom-only", cfg.CustomOnly, "external custom mutator only; parsed but not consulted by the fuzzing core")
	fs.BoolVar(&cfg.ExpandHavoc, "expand-havoc", cfg.ExpandHavoc, "wider havoc sub-stage set; parsed but not consulted by the fuzzing core")
	fs.StringVar(&cfg.Bandit, "bandit", cfg.Bandit, "operator-selector bandit (uniform|ucb1|klucb|thompson|dts|dbe|exp3ix|exp3pp|adsts)")
	fs.Float64Var(&cfg.HavocDiv, "havoc-div", cfg.HavocDiv, "havoc stage_max divisor")
}
