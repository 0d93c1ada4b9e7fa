// Package ast defines the in-memory representation of a parsed .gctf
// document: an ordered sequence of sections, each carrying a closed-variant
// content value. Parsing, validation, planning, and orchestration all read
// this tree; none of them mutate it.
package ast

import "time"

// SectionType is the closed set of section kinds a .gctf document may contain.
type SectionType int

const (
	Address SectionType = iota
	Endpoint
	Request
	Response
	Error
	RequestHeaders
	Asserts
	Proto
	Tls
	Options
	Extract
)

func (t SectionType) String() string {
	switch t {
	case Address:
		return "ADDRESS"
	case Endpoint:
		return "ENDPOINT"
	case Request:
		return "REQUEST"
	case Response:
		return "RESPONSE"
	case Error:
		return "ERROR"
	case RequestHeaders:
		return "REQUEST_HEADERS"
	case Asserts:
		return "ASSERTS"
	case Proto:
		return "PROTO"
	case Tls:
		return "TLS"
	case Options:
		return "OPTIONS"
	case Extract:
		return "EXTRACT"
	default:
		return "UNKNOWN"
	}
}

// Multiple reports whether a document may legally contain more than one
// section of this type.
func (t SectionType) Multiple() bool {
	switch t {
	case Request, Response, Asserts, Extract:
		return true
	default:
		return false
	}
}

// LineRange is an inclusive [Start, End] 1-based line span in the source text.
type LineRange struct {
	Start int
	End   int
}

// ResponseOptions carries the inline key=value options permitted on a
// Response section header (spec.md §3 "Inline options").
type ResponseOptions struct {
	WithAsserts     bool
	Partial         bool
	Tolerance       *float64
	Redact          []string // stable, author order
	UnorderedArrays bool
}

// Content is the closed sum type for a section's body; every section holds
// exactly one of the implementations below.
type Content interface {
	isContent()
}

// StringContent holds a single-string body (ADDRESS, ENDPOINT).
type StringContent string

func (StringContent) isContent() {}

// JSONContent holds a single decoded JSON value (REQUEST, ERROR, single-message RESPONSE).
type JSONContent struct {
	Value any
}

func (JSONContent) isContent() {}

// JSONLinesContent holds an ordered sequence of JSON values (multi-message RESPONSE).
type JSONLinesContent struct {
	Values []any
}

func (JSONLinesContent) isContent() {}

// KeyValuesContent holds an ordered string->string mapping (REQUEST_HEADERS, TLS, PROTO, OPTIONS).
//
// Keys holds the keys in sorted order (the parser sorts them), which is the
// canonical order the formatter emits; the source's insertion order is not
// kept. Values is the lookup map.
type KeyValuesContent struct {
	Keys   []string
	Values map[string]string
}

func (KeyValuesContent) isContent() {}

// ExtractEntry is one `name = expression` line in an EXTRACT section.
type ExtractEntry struct {
	Name       string
	Expression string
}

// ExtractContent holds an ordered mapping from variable name to query-or-expression.
type ExtractContent struct {
	Entries []ExtractEntry
}

func (ExtractContent) isContent() {}

// AssertsContent holds an ordered sequence of assertion strings.
type AssertsContent struct {
	Lines []string
}

func (AssertsContent) isContent() {}

// EmptyContent marks a section with no body.
type EmptyContent struct{}

func (EmptyContent) isContent() {}

// Section is one `--- NAME ... ---` block plus its body.
type Section struct {
	Type    SectionType
	Options ResponseOptions // only meaningful when Type == Response
	Content Content
	Raw     string // original source text of the body, for formatters/snapshots
	Range   LineRange
}

// Metadata carries document-level provenance.
type Metadata struct {
	SourcePath string
	SourceText string
	ParsedAt   time.Time
	ModifiedAt *time.Time
}

// Document is an ordered sequence of sections plus provenance metadata.
// Section order is semantically meaningful and must be preserved by every
// consumer.
type Document struct {
	Sections []Section
	Meta     Metadata
}

// Find returns the sections matching the given type, in source order.
func (d *Document) Find(t SectionType) []Section {
	var out []Section
	for _, s := range d.Sections {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// First returns the first section of the given type, if any.
func (d *Document) First(t SectionType) (Section, bool) {
	for _, s := range d.Sections {
		if s.Type == t {
			return s, true
		}
	}
	return Section{}, false
}

// Has reports whether the document contains at least one section of the given type.
func (d *Document) Has(t SectionType) bool {
	_, ok := d.First(t)
	return ok
}
