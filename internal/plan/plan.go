// Package plan derives a read-only execution plan from a Document: the RPC
// mode (spec.md §4.8) and the ordered step sequence used for reporting, the
// LSP, and test categorization.
package plan

import "github.com/gripmock/grpctestify/internal/ast"

// Mode is the classified RPC shape of a document.
type Mode int

const (
	Unary Mode = iota
	UnaryError
	ServerStreaming
	ClientStreaming
	Bidirectional
	MultiStep
)

func (m Mode) String() string {
	switch m {
	case Unary:
		return "Unary"
	case UnaryError:
		return "UnaryError"
	case ServerStreaming:
		return "ServerStreaming"
	case ClientStreaming:
		return "ClientStreaming"
	case Bidirectional:
		return "Bidirectional"
	default:
		return "MultiStep"
	}
}

// StepKind enumerates the ordered step types a plan can contain.
type StepKind int

const (
	StepConnect StepKind = iota
	StepSendRequest
	StepReceiveResponse
	StepValidateResponse
	StepExtract
	StepAssert
	StepReceiveError
	StepValidateError
)

func (k StepKind) String() string {
	switch k {
	case StepConnect:
		return "Connect"
	case StepSendRequest:
		return "SendRequest"
	case StepReceiveResponse:
		return "ReceiveResponse"
	case StepValidateResponse:
		return "ValidateResponse"
	case StepExtract:
		return "Extract"
	case StepAssert:
		return "Assert"
	case StepReceiveError:
		return "ReceiveError"
	case StepValidateError:
		return "ValidateError"
	default:
		return "Unknown"
	}
}

// Step is one node in the plan's visualisable sequence.
type Step struct {
	Kind  StepKind
	Index int // 1-based index within its kind (request#i, response#j, ...); 0 for Connect and the error steps
}

// Plan is the derived, read-only view of a Document.
type Plan struct {
	Mode  Mode
	Steps []Step
}

// Build classifies the RPC mode from section counts and enumerates steps
// (spec.md §4.8).
func Build(doc *ast.Document) Plan {
	requests := doc.Find(ast.Request)
	responses := doc.Find(ast.Response)
	hasError := doc.Has(ast.Error)

	nReq := len(requests)
	nResp := responseMessageCount(responses)

	mode := classify(nReq, nResp, hasError)

	steps := []Step{{Kind: StepConnect}}
	reqIdx, respIdx, extractIdx, assertIdx := 0, 0, 0, 0

	for _, s := range doc.Sections {
		switch s.Type {
		case ast.Request:
			reqIdx++
			steps = append(steps, Step{Kind: StepSendRequest, Index: reqIdx})
		case ast.Response:
			n := 1
			if jl, ok := s.Content.(ast.JSONLinesContent); ok {
				n = len(jl.Values)
			}
			for i := 0; i < n; i++ {
				respIdx++
				steps = append(steps, Step{Kind: StepReceiveResponse, Index: respIdx})
				steps = append(steps, Step{Kind: StepValidateResponse, Index: respIdx})
			}
		case ast.Extract:
			extractIdx++
			steps = append(steps, Step{Kind: StepExtract, Index: extractIdx})
		case ast.Asserts:
			assertIdx++
			steps = append(steps, Step{Kind: StepAssert, Index: assertIdx})
		case ast.Error:
			steps = append(steps, Step{Kind: StepReceiveError}, Step{Kind: StepValidateError})
		}
	}

	return Plan{Mode: mode, Steps: steps}
}

func responseMessageCount(responses []ast.Section) int {
	n := 0
	for _, s := range responses {
		switch c := s.Content.(type) {
		case ast.JSONLinesContent:
			n += len(c.Values)
		case ast.JSONContent:
			n++
		}
	}
	return n
}

func classify(nReq, nResp int, hasError bool) Mode {
	switch {
	case hasError && nReq == 1 && nResp == 0:
		return UnaryError
	case nReq == 1 && nResp == 1:
		return Unary
	case nReq == 1 && nResp >= 2:
		return ServerStreaming
	case nReq >= 2 && nResp == 1:
		return ClientStreaming
	case nReq >= 2 && nResp >= 2:
		return Bidirectional
	default:
		return MultiStep
	}
}
