package fuzzone

import (
	"context"

	"github.com/skeinforge/raretrace/internal/branchmask"
	"github.com/skeinforge/raretrace/internal/coverage"
	"github.com/skeinforge/raretrace/internal/mutate"
	"github.com/skeinforge/raretrace/internal/rarebranch"
	"github.com/skeinforge/raretrace/internal/rng"
	"github.com/skeinforge/raretrace/internal/trim"
)

// Config toggles the fuzz_one behaviors the driver reads from state
// (spec §6 "Environment/flags consulted").
type Config struct {
	SkipDeterministic bool
	NoArith           bool
	DisableTrim       bool
	UseSplicing       bool
	VanillaAFL        bool
	UseBranchMask     bool
	TrimForBranch     bool
	QueueCycle        int
	HavocDiv          float64
}

// Driver runs fuzz_one over queue entries, tracking the rare-branch
// selector's exponent and blacklist across calls.
type Driver struct {
	deps     Deps
	cfg      Config
	selector *rarebranch.Selector
}

// NewDriver constructs a Driver. initialExponent seeds rare_branch_exp.
func NewDriver(deps Deps, cfg Config, initialExponent int) *Driver {
	return &Driver{deps: deps, cfg: cfg, selector: rarebranch.New(deps.HitBits, initialExponent)}
}

// Stats reports what one FuzzOne call did, for campaign-level logging.
type Stats struct {
	Outcome        Outcome
	TargetBranch   coverage.BranchID
	RareBranchMode bool
	Deterministic  mutate.Stats
	Havoc          mutate.Stats
	Spliced        bool
}

// FuzzOne runs the full pipeline over q (spec §4.J). It never mutates q's
// Bytes; every candidate it produces is a fresh slice.
func (d *Driver) FuzzOne(ctx context.Context, q *coverage.QueueInput) (Stats, error) {
	var stats Stats

	buf := q.Bytes
	rareBranchMode := !d.cfg.VanillaAFL

	var (
		target            coverage.BranchID
		skipSimpleBitflip bool
	)

	if rareBranchMode {
		candidates, err := d.selector.SelectForInput(q.TraceMini)
		if err != nil {
			return Stats{Outcome: OutcomeSkipped}, err
		}

		if len(candidates) == 0 {
			return Stats{Outcome: OutcomeSkipped}, nil
		}

		var ok bool

		target, skipSimpleBitflip, ok = rarebranch.FirstUnfuzzed(q, candidates)
		if !ok {
			return Stats{Outcome: OutcomeSkipped}, nil
		}

		q.MarkBranchFuzzed(target)
		stats.TargetBranch = target
		stats.RareBranchMode = true
	}

	if !d.deps.Calibrator.Calibrate(ctx, d.deps.Executor, buf) {
		return Stats{Outcome: OutcomeSkipped}, nil
	}

	if !d.cfg.DisableTrim && !q.TrimDisabled {
		trimmed, err := d.deps.Trimmer.TrimCase(ctx, d.deps.Executor, buf)
		if err != nil {
			return stats, err
		}

		buf = trimmed
	}

	if rareBranchMode && d.cfg.TrimForBranch {
		res, err := trim.Run(ctx, d.deps.Executor, buf, target, nil)
		if err != nil {
			return stats, err
		}

		buf = res.Bytes
	}

	perfScore := d.deps.Scorer.Score(q)

	successfulBranchTries := 0

	isNew := func(r coverage.ExecResult) bool {
		got := d.deps.IsNewCoverage != nil && d.deps.IsNewCoverage(r)
		if got && rareBranchMode && r.Hits(target) {
			successfulBranchTries++
		}

		return got
	}

	var mask *branchmask.Mask

	if !d.cfg.SkipDeterministic || (rareBranchMode && d.cfg.UseBranchMask) {
		detOpts := mutate.Options{
			NoArith:           d.cfg.NoArith,
			SkipSimpleBitflip: skipSimpleBitflip || d.cfg.SkipDeterministic,
			UseBranchMask:     rareBranchMode && d.cfg.UseBranchMask,
			TargetBranch:      target,
		}

		detStats, _, builtMask, err := mutate.RunDeterministic(
			d.deps.Executor, buf, detOpts, d.deps.UserDict, d.deps.AutoDict,
			d.deps.AutoExtras.MaybeAddAuto, isNew,
		)
		if err != nil {
			return stats, err
		}

		stats.Deterministic = detStats
		mask = builtMask
	}

	var origMask *branchmask.Mask
	if mask != nil {
		origMask = mask.Clone()
	}

	havocOpts := mutate.HavocOptions{
		PerfScore:  perfScore,
		HavocDiv:   d.havocDiv(),
		QueueCycle: d.cfg.QueueCycle,
		QueueSize:  d.deps.Queue.QueueSize(),
		UserDict:   d.deps.UserDict,
		AutoDict:   d.deps.AutoDict,
		Mask:       mask,
		OrigMask:   origMask,
	}

	havocStats, err := mutate.RunHavoc(
		d.deps.Executor, buf, d.deps.RNG, d.deps.OperatorBandit, d.deps.StackingBandit,
		havocOpts, isNew,
	)
	if err != nil {
		return stats, err
	}

	stats.Havoc = havocStats

	if d.cfg.UseSplicing && havocStats.NewCoverage == 0 && d.deps.Queue.QueueSize() >= 2 && len(buf) >= 4 {
		spliced, splicedMask, serr := mutate.Attempt(d.deps.RNG, buf, func(r *rng.Handle) ([]byte, bool) {
			return d.deps.Queue.RandomOther(r, q)
		})

		if serr == nil && spliced != nil {
			stats.Spliced = true

			var spliceOrigMask *branchmask.Mask
			if splicedMask != nil {
				spliceOrigMask = splicedMask.Clone()
			}

			_, err := mutate.RunHavoc(
				d.deps.Executor, spliced, d.deps.RNG, d.deps.OperatorBandit, d.deps.StackingBandit,
				mutate.HavocOptions{
					PerfScore: perfScore, HavocDiv: d.havocDiv(), Mask: splicedMask, OrigMask: spliceOrigMask,
					UserDict: d.deps.UserDict, AutoDict: d.deps.AutoDict, QueueSize: d.deps.Queue.QueueSize(),
				},
				isNew,
			)
			if err != nil {
				return stats, err
			}
		}
	}

	if rareBranchMode && successfulBranchTries == 0 {
		d.selector.Blacklist(target)
	}

	stats.Outcome = OutcomeOK

	return stats, nil
}

func (d *Driver) havocDiv() float64 {
	if d.cfg.HavocDiv <= 0 {
		return 1
	}

	return d.cfg.HavocDiv
}
