package ast

import (
	"fmt"
	"strings"
)

// EndpointRef is a parsed `service/method` reference, with the service's
// package split from its simple name on the last dot (spec.md §3).
type EndpointRef struct {
	Package string // "" if the service name has no dot
	Service string // simple service name, without package
	Method  string
}

// FullService returns "pkg.sub.Svc" (or just "Svc" if there's no package).
func (e EndpointRef) FullService() string {
	if e.Package == "" {
		return e.Service
	}
	return e.Package + "." + e.Service
}

func (e EndpointRef) String() string {
	return fmt.Sprintf("%s/%s", e.FullService(), e.Method)
}

// ParseEndpointString parses "pkg.sub.Svc/Method" per spec.md §3: split on
// the first '/' into service and method, then split the service on its
// last '.' into package and simple service name.
func ParseEndpointString(raw string) (EndpointRef, error) {
	svc, method, ok := strings.Cut(raw, "/")
	if !ok || svc == "" || method == "" {
		return EndpointRef{}, fmt.Errorf("endpoint %q must be of the form service/method", raw)
	}
	if idx := strings.LastIndex(svc, "."); idx >= 0 {
		return EndpointRef{Package: svc[:idx], Service: svc[idx+1:], Method: method}, nil
	}
	return EndpointRef{Service: svc, Method: method}, nil
}

// ParseEndpoint resolves the document's ENDPOINT section, if present.
func (d *Document) ParseEndpoint() (EndpointRef, bool, error) {
	sec, ok := d.First(Endpoint)
	if !ok {
		return EndpointRef{}, false, nil
	}
	s, ok := sec.Content.(StringContent)
	if !ok {
		return EndpointRef{}, true, fmt.Errorf("ENDPOINT section has no string content")
	}
	ep, err := ParseEndpointString(string(s))
	return ep, true, err
}
