package main

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates results from many simulated users. All methods are
// goroutine-safe.
type Collector struct {
	mu        sync.Mutex
	latencies []time.Duration
	requests  int
	matched   int
	mismatch  int
	errors    int
	startTime time.Time
}

func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// AddRequest counts one published match request.
func (c *Collector) AddRequest() {
	c.mu.Lock()
	c.requests++
	c.mu.Unlock()
}

// AddMatch records the time from request to match_found. expected reports
// whether the partner was the one the scenario set up.
func (c *Collector) AddMatch(d time.Duration, expected bool) {
	c.mu.Lock()
	c.latencies = append(c.latencies, d)
	c.matched++
	if !expected {
		c.mismatch++
	}
	c.mu.Unlock()
}

func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

func (c *Collector) MatchedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matched
}

// Report prints the summary with latency percentiles to stdout.
func (c *Collector) Report(waiting int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:        %s\n", time.Since(c.startTime).Round(time.Second))
	fmt.Printf("Requests:        %d\n", c.requests)
	fmt.Printf("Matched:         %d\n", c.matched)
	fmt.Printf("Unexpected pair: %d\n", c.mismatch)
	fmt.Printf("Unmatched:       %d\n", waiting)
	fmt.Printf("Errors:          %d\n", c.errors)

	if len(c.latencies) > 0 {
		fmt.Println("\n--- Time to match ---")
		printPercentiles(c.latencies)
	}
	fmt.Println()
}

func printPercentiles(durations []time.Duration) {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	p50 := durations[n/2]
	p95 := durations[int(math.Ceil(float64(n)*0.95))-1]
	p99 := durations[int(math.Ceil(float64(n)*0.99))-1]

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	avg := sum / time.Duration(n)

	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		avg.Round(time.Microsecond),
		p50.Round(time.Microsecond),
		p95.Round(time.Microsecond),
		p99.Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}
