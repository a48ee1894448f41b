// Command raretrace-fuzz is a minimal campaign driver over the
// mutation/scheduling core: it seeds a queue from a corpus directory,
// runs fuzz_one in a loop against either an external subprocess or the
// built-in byte-edge demo executor, and reports statistics. Real
// instrumentation, crash triage, and corpus persistence belong to the
// outer supervisor (spec.md §1); this binary exists to exercise the
// core end-to-end, the way orizon-fuzz exercises the parser/lexer.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/skeinforge/raretrace/internal/config"
	"github.com/skeinforge/raretrace/internal/corpuswatch"
	"github.com/skeinforge/raretrace/internal/fuzzone"
	"github.com/skeinforge/raretrace/internal/testrunner/fuzz"
)

func main() {
	var (
		dur        time.Duration
		seed       int64
		maxInput   int
		par        int
		corpusDir  string
		jsonStats  string
		lang       string
		execPath   string
		execArgs   string
		maxExecs   uint64
		configPath string
		watch      bool
		printStats bool
	)

	// -config must be known before the rest of the flags are registered,
	// since its file supplies the defaults config.RegisterFlags binds to;
	// scan argv for it directly rather than parsing flags twice.
	configPath = prescanConfigFlag(os.Args[1:])

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	flag.DurationVar(&dur, "duration", 10*time.Second, "fuzzing duration")
	flag.Int64Var(&seed, "seed", 0, "random seed (0=time-derived)")
	flag.IntVar(&maxInput, "max", 4096, "max input size used by the performance scorer")
	flag.IntVar(&par, "p", 1, "parallel campaign loops; ignored, the runner always runs one loop")
	flag.StringVar(&corpusDir, "corpus-dir", "", "directory of seed files, one input per file")
	flag.StringVar(&jsonStats, "json-stats", "", "write execution/coverage/crash stats as JSON to this file")
	flag.StringVar(&lang, "lang", "en", "message language (en|ja)")
	flag.StringVar(&execPath, "exec", "", "external target binary; candidates are passed as a temp-file argument (default: built-in no-op demo target)")
	flag.StringVar(&execArgs, "exec-args", "", "space-separated extra arguments passed to -exec before the candidate path")
	flag.Uint64Var(&maxExecs, "max-execs", 0, "stop after this many executions (0=unlimited)")
	flag.StringVar(&configPath, "config", configPath, "optional JSON config file (schema_version gated, see internal/config)")
	flag.BoolVar(&watch, "watch", false, "watch --corpus-dir for newly created files during the run and fold them in")
	flag.BoolVar(&printStats, "stats", true, "print execution/coverage/crash statistics at the end")

	config.RegisterFlags(flag.CommandLine, &cfg)
	flag.Parse()

	L := locale(lang)

	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	target, cleanup := buildTarget(L, execPath, execArgs)
	if cleanup != nil {
		defer cleanup()
	}

	corpus := loadCorpusDir(L, corpusDir)
	if len(corpus) == 0 {
		corpus = []fuzz.CorpusEntry{[]byte("seed")}
	}

	if watch && corpusDir != "" {
		w, werr := corpuswatch.New(corpusDir)
		if werr != nil {
			fmt.Fprintln(os.Stderr, L.watchFailed(werr))
		} else {
			defer w.Close()

			go func() {
				for path := range w.NewFiles() {
					if b, rerr := os.ReadFile(path); rerr == nil && len(b) > 0 {
						corpus = append(corpus, b)
					}
				}
			}()
		}
	}

	opts := fuzz.Options{
		Duration:    dur,
		Seed:        seed,
		MaxInput:    maxInput,
		Concurrency: par,
		MaxExecs:    maxExecs,
		BanditName:  cfg.Bandit,
		Config: fuzzone.Config{
			SkipDeterministic: cfg.SkipDeterministic,
			NoArith:           cfg.NoArith,
			DisableTrim:       cfg.DisableTrim,
			UseSplicing:       cfg.UseSplicing,
			VanillaAFL:        cfg.VanillaAFL,
			UseBranchMask:     cfg.UseBranchMask,
			TrimForBranch:     cfg.TrimForBranch,
			HavocDiv:          cfg.HavocDiv,
		},
	}

	start := time.Now()
	stats := fuzz.RunWithStats(opts, corpus, target, os.Stdout)
	elapsed := time.Since(start)

	if printStats {
		execsPerSec := 0.0
		if elapsed.Seconds() > 0 {
			execsPerSec = float64(stats.Executions) / elapsed.Seconds()
		}

		fmt.Println(L.summary(stats.Executions, stats.NewCoverage, stats.Crashes, stats.QueueSize, elapsed, execsPerSec))
	}

	if jsonStats != "" {
		body := fmt.Sprintf(
			"{\"executions\":%d,\"new_coverage\":%d,\"crashes\":%d,\"queue_size\":%d,\"duration_ms\":%d,\"seed\":%d}\n",
			stats.Executions, stats.NewCoverage, stats.Crashes, stats.QueueSize, elapsed.Milliseconds(), seed,
		)
		if werr := os.WriteFile(jsonStats, []byte(body), 0o644); werr != nil {
			fmt.Fprintln(os.Stderr, L.writeFailed(jsonStats, werr))
		}
	}

	fmt.Println(L.done())
}

// prescanConfigFlag extracts -config/--config's value from argv without
// invoking the flag package, so the config file can be loaded before the
// rest of the flags (whose defaults come from it) are registered.
func prescanConfigFlag(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]

		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}

	return ""
}

func loadCorpusDir(L Locale, dir string) []fuzz.CorpusEntry {
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		fatal(L, err)
	}

	var corpus []fuzz.CorpusEntry

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		b, rerr := os.ReadFile(filepath.Join(dir, e.Name()))
		if rerr == nil && len(b) > 0 {
			corpus = append(corpus, b)
		}
	}

	return corpus
}

// buildTarget returns either a subprocess-driving target (writes the
// candidate to a temp file, runs execPath with execArgs plus the temp
// path, and treats a non-zero exit or signal as a crash) or the
// built-in no-op demo target when execPath is empty.
func buildTarget(L Locale, execPath, execArgs string) (fuzz.Target, func()) {
	if execPath == "" {
		return func(data []byte) error { return nil }, nil
	}

	tmp, err := os.CreateTemp("", "raretrace-candidate-*")
	if err != nil {
		fatal(L, err)
	}

	tmp.Close()

	args := strings.Fields(execArgs)
	cleanup := func() { os.Remove(tmp.Name()) }

	target := func(data []byte) error {
		if err := os.WriteFile(tmp.Name(), data, 0o644); err != nil {
			return fmt.Errorf("writing candidate: %w", err)
		}

		cmdArgs := append(append([]string{}, args...), tmp.Name())
		cmd := exec.Command(execPath, cmdArgs...)

		if runErr := cmd.Run(); runErr != nil {
			return fmt.Errorf("target exited abnormally: %w", runErr)
		}

		return nil
	}

	return target, cleanup
}

func fatal(L Locale, args ...any) {
	fmt.Fprintln(os.Stderr, append([]any{L.fatalPrefix()}, args...)...)
	os.Exit(1)
}

// Locale holds the handful of user-facing strings the driver prints,
// following cmd/orizon-fuzz's ja/en locale switch.
type Locale struct {
	done        func() string
	fatalPrefix func() string
	watchFailed func(err error) string
	writeFailed func(path string, err error) string
	summary     func(execs, newCov, crashes uint64, queueSize int, elapsed time.Duration, execsPerSec float64) string
}

func locale(lang string) Locale {
	switch strings.ToLower(lang) {
	case "ja", "jp", "japanese":
		return Locale{
			done:        func() string { return "ファズ終了" },
			fatalPrefix: func() string { return "致命的エラー:" },
			watchFailed: func(err error) string { return fmt.Sprintf("コーパス監視に失敗しました: %v", err) },
			writeFailed: func(path string, err error) string { return fmt.Sprintf("%s への書き込みに失敗しました: %v", path, err) },
			summary: func(execs, newCov, crashes uint64, queueSize int, elapsed time.Duration, execsPerSec float64) string {
				return fmt.Sprintf(
					"実行回数=%d 新規カバレッジ=%d クラッシュ=%d キュー件数=%d 経過時間=%s 実行/秒=%.2f",
					execs, newCov, crashes, queueSize, elapsed.Truncate(time.Millisecond), execsPerSec,
				)
			},
		}
	default:
		return Locale{
			done:        func() string { return "Fuzzing finished" },
			fatalPrefix: func() string { return "fatal:" },
			watchFailed: func(err error) string { return fmt.Sprintf("corpus watch failed: %v", err) },
			writeFailed: func(path string, err error) string { return fmt.Sprintf("failed to write %s: %v", path, err) },
			summary: func(execs, newCov, crashes uint64, queueSize int, elapsed time.Duration, execsPerSec float64) string {
				return fmt.Sprintf(
					"executions=%d new_coverage=%d crashes=%d queue_size=%d duration=%s execs_per_sec=%.2f",
					execs, newCov, crashes, queueSize, elapsed.Truncate(time.Millisecond), execsPerSec,
				)
			},
		}
	}
}
