// Package report renders orchestrator results to console, JUnit, Allure,
// and streaming NDJSON formats (spec.md §6's log-format flags); coverage
// output is not produced here. Grounded on the teacher's DefaultEventHandler verbose-logging
// pattern (format.go) and structured via go.uber.org/zap.
package report

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/gripmock/grpctestify/internal/orchestrator"
)

// CaseResult is one test file's outcome, ready for any reporter.
type CaseResult struct {
	Path     string
	Name     string
	Result   *orchestrator.Result
	Err      error
	Duration time.Duration
}

// Console writes a human-readable summary, one line per case, to out.
type Console struct {
	out    io.Writer
	logger *zap.Logger
}

func NewConsole(out io.Writer, logger *zap.Logger) *Console {
	return &Console{out: out, logger: logger}
}

func (c *Console) Report(cr CaseResult) {
	switch {
	case cr.Err != nil:
		fmt.Fprintf(c.out, "ERROR %s (%s): %v\n", cr.Path, cr.Duration, cr.Err)
		c.logger.Error("test errored", zap.String("path", cr.Path), zap.Error(cr.Err))
	case cr.Result.Passed:
		fmt.Fprintf(c.out, "PASS  %s (%s) mode=%s\n", cr.Path, cr.Duration, cr.Result.Mode)
	default:
		fmt.Fprintf(c.out, "FAIL  %s (%s) mode=%s\n", cr.Path, cr.Duration, cr.Result.Mode)
		for _, d := range cr.Result.Diffs {
			fmt.Fprintf(c.out, "  diff at %s: %s\n", d.Path, d.Message)
		}
		for _, a := range cr.Result.Assertions {
			if a.Verdict != 0 {
				fmt.Fprintf(c.out, "  assert %q: %s\n", a.Expr, a.Message)
			}
		}
	}
}

func (c *Console) Summary(results []CaseResult) {
	passed, failed, errored := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			errored++
		case r.Result.Passed:
			passed++
		default:
			failed++
		}
	}
	fmt.Fprintf(c.out, "\n%d passed, %d failed, %d errored (total %d)\n", passed, failed, errored, len(results))
}

// StreamEvent is one NDJSON line emitted under --stream (spec.md §6,
// SUPPLEMENTED "Workflow events"). Type is "test_pass", "test_fail", or
// "test_error".
type StreamEvent struct {
	Type         string  `json:"type"`
	Path         string  `json:"path"`
	Mode         string  `json:"mode,omitempty"`
	Duration     float64 `json:"duration"`
	GRPCDuration float64 `json:"grpcDuration,omitempty"`
	Message      string  `json:"message,omitempty"`
}

// Stream writes one NDJSON event per case, for live consumption (editors,
// dashboards).
type Stream struct {
	enc *json.Encoder
}

func NewStream(out io.Writer) *Stream {
	return &Stream{enc: json.NewEncoder(out)}
}

func (s *Stream) Report(cr CaseResult) error {
	ev := StreamEvent{Path: cr.Path, Duration: cr.Duration.Seconds()}
	switch {
	case cr.Err != nil:
		ev.Type = "test_error"
		ev.Message = cr.Err.Error()
	case cr.Result.Passed:
		ev.Type = "test_pass"
		ev.Mode = cr.Result.Mode.String()
		ev.GRPCDuration = cr.Result.Timing.Wait.Seconds()
	default:
		ev.Type = "test_fail"
		ev.Mode = cr.Result.Mode.String()
		ev.GRPCDuration = cr.Result.Timing.Wait.Seconds()
		if len(cr.Result.Diffs) > 0 {
			ev.Message = cr.Result.Diffs[0].Message
		}
	}
	return s.enc.Encode(ev)
}

// JUnit renders results as a JUnit XML testsuite (spec.md §6 --log-format junit).
type junitSuite struct {
	XMLName   xml.Name    `xml:"testsuite"`
	Name      string      `xml:"name,attr"`
	Tests     int         `xml:"tests,attr"`
	Failures  int         `xml:"failures,attr"`
	Errors    int         `xml:"errors,attr"`
	TimeSecs  float64     `xml:"time,attr"`
	TestCases []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name     string        `xml:"name,attr"`
	TimeSecs float64       `xml:"time,attr"`
	Failure  *junitFailure `xml:"failure,omitempty"`
	Error    *junitFailure `xml:"error,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Text    string `xml:",chardata"`
}

// WriteJUnit serializes results as a single JUnit testsuite to out.
func WriteJUnit(out io.Writer, suiteName string, results []CaseResult) error {
	suite := junitSuite{Name: suiteName, Tests: len(results)}
	for _, r := range results {
		tc := junitCase{Name: r.Path, TimeSecs: r.Duration.Seconds()}
		switch {
		case r.Err != nil:
			suite.Errors++
			tc.Error = &junitFailure{Message: r.Err.Error()}
		case !r.Result.Passed:
			suite.Failures++
			tc.Failure = &junitFailure{Message: "assertion failed", Text: diffsToText(r.Result)}
		}
		suite.TimeSecs += r.Duration.Seconds()
		suite.TestCases = append(suite.TestCases, tc)
	}
	enc := xml.NewEncoder(out)
	enc.Indent("", "  ")
	return enc.Encode(suite)
}

func diffsToText(r *orchestrator.Result) string {
	var s string
	for _, d := range r.Diffs {
		s += d.Path + ": " + d.Message + "\n"
	}
	for _, a := range r.Assertions {
		if a.Verdict != 0 {
			s += a.Expr + ": " + a.Message + "\n"
		}
	}
	return s
}

// allureResult is one Allure test-result JSON document (spec.md §6
// --log-format allure writes one such document per case, Allure's own
// on-disk convention).
type allureResult struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // passed, failed, broken
	Start     int64  `json:"start"`
	Stop      int64  `json:"stop"`
	StatusMsg string `json:"statusDetails,omitempty"`
}

// WriteAllure writes one Allure JSON result document per case to individual
// writers returned by newWriter(path).
func WriteAllure(results []CaseResult, newWriter func(name string) (io.WriteCloser, error)) error {
	now := time.Now()
	for _, r := range results {
		status := "passed"
		var msg string
		switch {
		case r.Err != nil:
			status = "broken"
			msg = r.Err.Error()
		case !r.Result.Passed:
			status = "failed"
			msg = diffsToText(r.Result)
		}
		ar := allureResult{
			Name:      r.Path,
			Status:    status,
			Start:     now.Add(-r.Duration).UnixMilli(),
			Stop:      now.UnixMilli(),
			StatusMsg: msg,
		}
		w, err := newWriter(r.Path + "-result.json")
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(ar); err != nil {
			_ = w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}
