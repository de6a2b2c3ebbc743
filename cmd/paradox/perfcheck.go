package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

const defaultRegressionThreshold = 0.30

var errRegression = errors.New("performance regression threshold exceeded")

// trackedBenchmarks are the hot paths compared between runs.
var trackedBenchmarks = map[string][]string{
	"BenchmarkStartAndRespond":    {"ns/op", "allocs/op"},
	"BenchmarkMetricsIncParallel": {"ns/op"},
	"BenchmarkVerify":             {"ns/op", "allocs/op"},
	"BenchmarkScore":              {"ns/op"},
}

// benchSamples maps benchmark name to unit to every sample seen.
type benchSamples map[string]map[string][]float64

func newPerfcheckCmd() *cobra.Command {
	var (
		baselinePath  string
		candidatePath string
		threshold     float64
	)

	cmd := &cobra.Command{
		Use:   "perfcheck",
		Short: "Compare two go test -bench outputs and fail on regressions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if baselinePath == "" || candidatePath == "" {
				return errors.New("--baseline and --candidate are required")
			}
			if threshold < 0 {
				return errors.New("--threshold must be >= 0")
			}
			baseline, err := parseBenchFile(baselinePath)
			if err != nil {
				return fmt.Errorf("parse baseline: %w", err)
			}
			candidate, err := parseBenchFile(candidatePath)
			if err != nil {
				return fmt.Errorf("parse candidate: %w", err)
			}
			return compareBenchmarks(cmd.OutOrStdout(), baseline, candidate, threshold)
		},
	}
	cmd.Flags().StringVar(&baselinePath, "baseline", "", "path to baseline benchmark output")
	cmd.Flags().StringVar(&candidatePath, "candidate", "", "path to candidate benchmark output")
	cmd.Flags().Float64Var(&threshold, "threshold", defaultRegressionThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	return cmd
}

// compareBenchmarks prints one line per tracked metric and returns
// errRegression listing every metric over threshold or missing.
func compareBenchmarks(w io.Writer, baseline, candidate benchSamples, threshold float64) error {
	names := make([]string, 0, len(trackedBenchmarks))
	for name := range trackedBenchmarks {
		if _, ok := baseline[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return errors.New("baseline contains no tracked benchmarks")
	}

	var failures []string
	fmt.Fprintln(w, "benchmark metric baseline candidate delta")
	for _, name := range names {
		for _, unit := range trackedBenchmarks[name] {
			base := baseline[name][unit]
			cand := candidate[name][unit]
			if len(base) == 0 || len(cand) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", name, unit))
				continue
			}

			baseMedian := median(base)
			candMedian := median(cand)
			if baseMedian <= 0 {
				failures = append(failures, fmt.Sprintf("invalid baseline median for %s %s", name, unit))
				continue
			}

			delta := (candMedian - baseMedian) / baseMedian
			fmt.Fprintf(w, "%s %s %.3f %.3f %+0.2f%%\n", name, unit, baseMedian, candMedian, delta*100)
			if delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)",
					name, unit, delta*100, threshold*100))
			}
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("%w:\n  - %s", errRegression, strings.Join(failures, "\n  - "))
	}
	return nil
}

func parseBenchFile(path string) (benchSamples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseBench(f)
}

func parseBench(r io.Reader) (benchSamples, error) {
	samples := benchSamples{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := trimProcs(fields[0])
		if _, ok := trackedBenchmarks[name]; !ok {
			continue
		}
		if samples[name] == nil {
			samples[name] = map[string][]float64{}
		}
		// fields[1] is the iteration count; the rest are value/unit pairs.
		for i := 2; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			samples[name][fields[i+1]] = append(samples[name][fields[i+1]], v)
		}
	}
	return samples, scanner.Err()
}

// trimProcs drops the -GOMAXPROCS suffix from a benchmark name.
func trimProcs(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
