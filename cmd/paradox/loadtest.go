package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/paradox"
	"github.com/MrEthical07/paradox/challenge"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const loadtestAnswer = "forty two"

type loadtestOptions struct {
	sessions    int
	concurrency int
	redisAddr   string
	prefix      string
}

func newLoadtestCmd(root *rootOptions) *cobra.Command {
	opts := loadtestOptions{}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive concurrent sessions through an in-process engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.sessions <= 0 || opts.concurrency <= 0 {
				return errors.New("sessions and concurrency must be > 0")
			}
			addr := opts.redisAddr
			if addr == "" {
				addr = os.Getenv("REDIS_ADDR")
			}
			cfg, err := paradox.LoadConfig(root.configPath)
			if err != nil {
				return err
			}
			if cfg.Token.Secret == "" {
				cfg.Token.Secret = "loadtest-secret-0123456789abcdef0123456789"
			}
			cfg.Session.KeyPrefix = opts.prefix

			report, err := runLoadtest(cmd.Context(), cfg, addr, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			report.print(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.sessions, "sessions", 10000, "number of sessions to run")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "pdx-load", "session key prefix")
	return cmd
}

type loadtestReport struct {
	start    phaseStats
	respond  phaseStats
	outcomes map[paradox.Action]int64
}

func runLoadtest(ctx context.Context, cfg paradox.Config, addr string, opts loadtestOptions, w io.Writer) (loadtestReport, error) {
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return loadtestReport{}, fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(w, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(w, "using redis at %s\n", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	})
	defer client.Close()

	engine, err := paradox.New().
		WithConfig(cfg).
		WithRedis(client).
		WithGenerator(loadtestGenerator()).
		WithLogger(slog.New(slog.DiscardHandler)).
		Build()
	if err != nil {
		return loadtestReport{}, err
	}
	defer engine.Close()

	starts, startStats := runStartPhase(ctx, engine, opts.sessions, opts.concurrency)
	respondStats, outcomes := runRespondPhase(ctx, engine, starts, opts.concurrency)
	return loadtestReport{start: startStats, respond: respondStats, outcomes: outcomes}, nil
}

// loadtestGenerator serves one answerable challenge so workers can respond
// without solving the catalog.
func loadtestGenerator() challenge.Generator {
	verifier := challenge.VerifierFor(loadtestAnswer)
	return challenge.GeneratorFunc(func(_ context.Context, req challenge.Request) (challenge.Challenge, error) {
		return challenge.Challenge{
			Kind:       "loadtest",
			Prompt:     "what is six times seven",
			Input:      true,
			Difficulty: req.Difficulty,
			Verifier:   verifier,
		}, nil
	})
}

func runStartPhase(ctx context.Context, engine *paradox.Engine, sessions, concurrency int) ([]paradox.StartResult, phaseStats) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		results   = make([]paradox.StartResult, sessions)
		latencies = make([]time.Duration, 0, sessions)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= sessions {
					return
				}
				t0 := time.Now()
				res, err := engine.StartSession(ctx)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else {
					results[i] = res
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return results, computeStats(time.Since(start), latencies, failures)
}

func runRespondPhase(ctx context.Context, engine *paradox.Engine, starts []paradox.StartResult, concurrency int) (phaseStats, map[paradox.Action]int64) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(starts))
		outcomes  = make(map[paradox.Action]int64)
		mu        sync.Mutex
	)

	meta := map[string]any{
		"v":           1,
		"entropy":     0.5,
		"hesitations": 2,
	}

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(starts) {
					return
				}
				s := starts[i]
				if s.Token == "" {
					continue
				}
				t0 := time.Now()
				res, err := engine.Respond(ctx, paradox.RespondRequest{
					Token:   s.Token,
					RoundID: s.RoundID,
					Answer:  loadtestAnswer,
					Meta:    meta,
				})
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				if err == nil {
					outcomes[res.Action]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures), outcomes
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func (r loadtestReport) print(w io.Writer) {
	fmt.Fprintln(w, "---- results ----")
	printStats(w, "start", r.start)
	printStats(w, "respond", r.respond)

	actions := make([]string, 0, len(r.outcomes))
	for a := range r.outcomes {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)
	for _, a := range actions {
		fmt.Fprintf(w, "outcome %s: %d\n", a, r.outcomes[paradox.Action(a)])
	}
}

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
