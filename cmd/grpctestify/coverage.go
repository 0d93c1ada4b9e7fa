package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/gripmock/grpctestify/internal/orchestrator"
)

// coverageTracker records which service/method endpoints a run exercised
// (spec.md §10 SUPPLEMENTED "Coverage collection"). Untested-method
// reporting against the full descriptor set is left to a future `inspect
// --coverage-against <descriptor>` pairing: a single run only ever dials
// the methods its own test files name, so "exercised" is all this tracker
// can observe on its own.
type coverageTracker struct {
	enabled bool
	mu      sync.Mutex
	seen    map[string]int
}

func newCoverageTracker(enabled bool) *coverageTracker {
	return &coverageTracker{enabled: enabled, seen: map[string]int{}}
}

func (c *coverageTracker) record(res *orchestrator.Result) {
	if !c.enabled || res == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[res.Endpoint.String()]++
}

func (c *coverageTracker) write(out io.Writer, format string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	endpoints := make([]string, 0, len(c.seen))
	for e := range c.seen {
		endpoints = append(endpoints, e)
	}
	sort.Strings(endpoints)

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]map[string]int{"exercised": c.seen})
		return
	}
	fmt.Fprintln(out, "\nCoverage (exercised endpoints):")
	for _, e := range endpoints {
		fmt.Fprintf(out, "  %s (%d call%s)\n", e, c.seen[e], plural(c.seen[e]))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
