// Command perf-regression compares two `go test -bench` outputs and fails
// when a tracked metric regresses past a threshold. Run the benchmarks
// with -count >= 5 on both sides; the comparison uses per-metric medians
// so one noisy run cannot fail or pass the gate on its own.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

const defaultThreshold = 0.30

// tracked pins the benchmark/metric pairs the gate watches. Untracked
// benchmarks may come and go freely.
var tracked = []metricKey{
	{bench: "BenchmarkValidateAccess", unit: "ns/op"},
	{bench: "BenchmarkValidateAccess", unit: "allocs/op"},
	{bench: "BenchmarkRefresh", unit: "ns/op"},
	{bench: "BenchmarkLogin", unit: "ns/op"},
}

type metricKey struct {
	bench string
	unit  string
}

type samples map[metricKey][]float64

func main() {
	baselinePath := flag.String("baseline", "", "baseline benchmark output")
	candidatePath := flag.String("candidate", "", "candidate benchmark output")
	threshold := flag.Float64("threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	flag.Parse()

	if *baselinePath == "" || *candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if *threshold < 0 {
		fmt.Fprintln(os.Stderr, "-threshold must be >= 0")
		os.Exit(2)
	}

	baseline, err := readBenchOutput(*baselinePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := readBenchOutput(*candidatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "candidate: %v\n", err)
		os.Exit(1)
	}

	var failures []string
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "benchmark\tmetric\tbaseline\tcandidate\tdelta")

	for _, key := range tracked {
		base, cand := baseline[key], candidate[key]
		if len(base) == 0 || len(cand) == 0 {
			failures = append(failures, fmt.Sprintf("%s %s: missing samples", key.bench, key.unit))
			continue
		}

		baseMed, candMed := median(base), median(cand)
		if baseMed <= 0 {
			failures = append(failures, fmt.Sprintf("%s %s: non-positive baseline median", key.bench, key.unit))
			continue
		}

		delta := (candMed - baseMed) / baseMed
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%+.2f%%\n", key.bench, key.unit, baseMed, candMed, delta*100)
		if delta > *threshold {
			failures = append(failures, fmt.Sprintf("%s %s: %+.2f%% exceeds limit %+.2f%%",
				key.bench, key.unit, delta*100, *threshold*100))
		}
	}
	tw.Flush()

	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "perf gate failed:")
		for _, f := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", f)
		}
		os.Exit(1)
	}
	fmt.Println("perf gate passed")
}

// readBenchOutput collects every tracked measurement from one bench run.
// Benchmark result lines look like:
//
//	BenchmarkLogin-8   1000   1045231 ns/op   2048 B/op   24 allocs/op
func readBenchOutput(path string) (samples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := samples{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		bench := stripProcSuffix(fields[0])

		// value/unit pairs start after the iteration count.
		for i := 2; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			key := metricKey{bench: bench, unit: fields[i+1]}
			if isTracked(key) {
				out[key] = append(out[key], v)
			}
		}
	}
	return out, sc.Err()
}

func isTracked(key metricKey) bool {
	for _, t := range tracked {
		if t == key {
			return true
		}
	}
	return false
}

// stripProcSuffix drops the -GOMAXPROCS suffix go test appends to
// benchmark names.
func stripProcSuffix(name string) string {
	if i := strings.LastIndexByte(name, '-'); i > 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			return name[:i]
		}
	}
	return name
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
