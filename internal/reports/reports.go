// Package reports renders plain-text circulation reports through a registry
// of named generators.
package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownReportType   = errors.New("unknown report type")
	ErrDuplicateReportType = errors.New("duplicate report type")
)

// Generator renders one report type.
type Generator interface {
	Type() string
	Generate(ctx context.Context) (string, error)
}

// Registry maps case-folded report types to generators. It is read-only
// after NewRegistry returns and safe for concurrent use.
type Registry struct {
	generators map[string]Generator
}

// NewRegistry registers every generator under its lower-cased type.
func NewRegistry(generators ...Generator) (*Registry, error) {
	r := &Registry{generators: make(map[string]Generator, len(generators))}
	for _, g := range generators {
		key := strings.ToLower(g.Type())
		if key == "" {
			return nil, fmt.Errorf("%w: empty type", ErrUnknownReportType)
		}
		if _, exists := r.generators[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateReportType, key)
		}
		r.generators[key] = g
	}
	return r, nil
}

// Get returns the generator registered for reportType, ignoring case.
func (r *Registry) Get(reportType string) (Generator, error) {
	g, ok := r.generators[strings.ToLower(reportType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReportType, reportType)
	}
	return g, nil
}

// Generate looks up reportType and renders it.
func (r *Registry) Generate(ctx context.Context, reportType string) (string, error) {
	g, err := r.Get(reportType)
	if err != nil {
		return "", err
	}
	return g.Generate(ctx)
}

// Types lists the registered report types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.generators))
	for t := range r.generators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
