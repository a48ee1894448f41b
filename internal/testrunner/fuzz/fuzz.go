package fuzz

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/skeinforge/raretrace/internal/bandit"
	"github.com/skeinforge/raretrace/internal/coverage"
	"github.com/skeinforge/raretrace/internal/fuzzone"
	"github.com/skeinforge/raretrace/internal/mutate"
	"github.com/skeinforge/raretrace/internal/rng"
)

// CorpusEntry is one seed input.
type CorpusEntry = []byte

// Options configures a campaign run. The core itself is single-threaded
// cooperative (per its concurrency model), and RunWithStats always runs
// one campaign loop with one queue and one RNG stream; Concurrency is
// carried but not read.
type Options struct {
	Duration    time.Duration
	Seed        int64
	MaxInput    int
	Concurrency int
	MaxExecs    uint64
	BanditName  string
	Config      fuzzone.Config
}

// Stats summarizes one campaign run.
type Stats struct {
	Executions  uint64
	Crashes     uint64
	NewCoverage uint64
	QueueSize   int
}

type memQueue struct {
	entries []*coverage.QueueInput
	nextID  uint64
}

func (q *memQueue) add(bytes []byte, mini *coverage.Bitset) *coverage.QueueInput {
	q.nextID++
	e := coverage.NewQueueInput(q.nextID, bytes, mini)
	q.entries = append(q.entries, e)

	return e
}

func (q *memQueue) QueueSize() int { return len(q.entries) }

func (q *memQueue) RandomOther(r *rng.Handle, exclude *coverage.QueueInput) ([]byte, bool) {
	if len(q.entries) < 2 {
		return nil, false
	}

	for tries := 0; tries < 8; tries++ {
		e := q.entries[r.RandBelow(len(q.entries))]
		if e != exclude {
			return e.Bytes, true
		}
	}

	return nil, false
}

type passthroughTrimmer struct{}

func (passthroughTrimmer) TrimCase(ctx context.Context, exec coverage.Executor, buf []byte) ([]byte, error) {
	return buf, nil
}

type alwaysCalibrated struct{}

func (alwaysCalibrated) Calibrate(ctx context.Context, exec coverage.Executor, buf []byte) bool {
	return true
}

type lengthScorer struct{ maxInput int }

func (s lengthScorer) Score(q *coverage.QueueInput) float64 {
	if s.maxInput <= 0 {
		return 1.0
	}

	ratio := 1.0 - float64(len(q.Bytes))/float64(2*s.maxInput)
	if ratio < 0.1 {
		ratio = 0.1
	}

	return ratio
}

type dictSink struct{ dict *mutate.Dictionary }

func (s dictSink) MaybeAddAuto(token []byte) { s.dict.Add(token, true) }

func newBandit(name string, n int, r *rng.Handle) bandit.Bandit {
	switch name {
	case "uniform":
		return bandit.NewUniform(n, r)
	case "thompson":
		return bandit.NewThompson(n, r)
	case "dts":
		return bandit.NewDiscountedThompson(n, r, 0.999, false)
	case "dbe":
		return bandit.NewDBE(n, r, 0.999)
	case "exp3ix":
		return bandit.NewExp3IX(n, r)
	case "exp3pp":
		return bandit.NewExp3PP(n, r, bandit.Exp3PPOptions{})
	case "adsts":
		return bandit.NewADWINThompson(n, r)
	case "klucb":
		return bandit.NewKLUCB(n, bandit.DefaultKLUCBOptions())
	default:
		return bandit.NewUCB1(n)
	}
}

// RunWithStats drives a campaign against target for opts.Duration (or
// until opts.MaxExecs executions), seeding the queue from corpus and
// writing one line per crash to w (may be nil).
func RunWithStats(opts Options, corpus []CorpusEntry, target Target, w io.Writer) Stats {
	if opts.MaxInput <= 0 {
		opts.MaxInput = 4096
	}

	seed := opts.Seed
	if seed == 0 {
		seed = 1
	}

	r := rng.NewSeeded(seed)
	hitBits := coverage.NewHitBits(MapSize)
	exec := NewByteEdgeExecutor(target, hitBits)

	q := &memQueue{}

	if len(corpus) == 0 {
		corpus = []CorpusEntry{[]byte{0}}
	}

	seenEdges := coverage.NewBitset(MapSize)

	isNew := func(res coverage.ExecResult) bool {
		if res.TraceMini == nil {
			return false
		}

		grew := false

		res.TraceMini.Each(func(i int) {
			if !seenEdges.Test(i) {
				seenEdges.Set(i)
				grew = true
			}
		})

		return grew
	}

	for _, c := range corpus {
		res, err := exec.Execute(c)
		if err != nil {
			continue
		}

		isNew(res)
		q.add(c, res.TraceMini)
	}

	userDict := mutate.NewDictionary()
	autoDict := mutate.NewDictionary()

	deps := fuzzone.Deps{
		Executor:       exec,
		HitBits:        hitBits,
		Queue:          q,
		Trimmer:        passthroughTrimmer{},
		Calibrator:     alwaysCalibrated{},
		Scorer:         lengthScorer{maxInput: opts.MaxInput},
		AutoExtras:     dictSink{dict: autoDict},
		RNG:            r,
		OperatorBandit: newBandit(opts.BanditName, mutate.NumOperators, r),
		StackingBandit: newBandit("uniform", 4, r),
		UserDict:       userDict,
		AutoDict:       autoDict,
		IsNewCoverage:  isNew,
	}

	cfg := opts.Config
	if cfg.HavocDiv <= 0 {
		cfg.HavocDiv = 1
	}

	driver := fuzzone.NewDriver(deps, cfg, 0)

	var stats Stats

	deadline := time.Now().Add(opts.Duration)
	ctx := context.Background()
	cursor := 0

	for time.Now().Before(deadline) {
		if opts.MaxExecs > 0 && stats.Executions >= opts.MaxExecs {
			break
		}

		if q.QueueSize() == 0 {
			break
		}

		entry := q.entries[cursor%len(q.entries)]
		cursor++

		before := stats.NewCoverage

		res, err := driver.FuzzOne(ctx, entry)
		if err != nil {
			continue
		}

		stats.Executions += uint64(res.Deterministic.Executions + res.Havoc.Executions)
		stats.NewCoverage += uint64(res.Deterministic.NewCoverage + res.Havoc.NewCoverage)

		if stats.NewCoverage > before {
			mini := coverage.NewBitset(MapSize)
			q.add(entry.Bytes, mini)
		}
	}

	stats.QueueSize = q.QueueSize()

	crashExec := NewByteEdgeExecutor(func(data []byte) error {
		return target(data)
	}, hitBits)

	for _, e := range q.entries {
		res, err := crashExec.Execute(e.Bytes)
		if err == nil && res.Status == coverage.StatusCrash {
			stats.Crashes++

			if w != nil {
				fmt.Fprintf(w, "crash\t0x%x\n", e.Bytes)
			}
		}
	}

	return stats
}

// Run is RunWithStats discarding the returned stats, matching the
// simplest possible call shape for a one-off campaign.
func Run(opts Options, corpus []CorpusEntry, target Target) {
	RunWithStats(opts, corpus, target, nil)
}
