package report

import "time"

// Aggregator assembles Parts into a Report in discovery order, whatever
// order they arrive in. It is not safe for concurrent use; one goroutine
// owns it and receives Parts over a channel.
type Aggregator struct {
	parts    []*Part
	errors   []Finding
	warnings []Finding
	done     int
}

// NewAggregator returns an Aggregator for n repositories.
func NewAggregator(n int) *Aggregator {
	return &Aggregator{parts: make([]*Part, n)}
}

// Add stores the Part of the repository at discovery position index and
// returns the number of Parts received so far.
func (a *Aggregator) Add(index int, p *Part) int {
	if a.parts[index] == nil {
		a.done++
	}
	a.parts[index] = p
	return a.done
}

// Len returns the number of expected Parts.
func (a *Aggregator) Len() int { return len(a.parts) }

// Warn records a warning that belongs to the run rather than a repository.
func (a *Aggregator) Warn(kind Kind, msg string) {
	a.warnings = append(a.warnings, Finding{Kind: kind, Message: msg})
}

// Error records an error that belongs to the run rather than a repository.
func (a *Aggregator) Error(kind Kind, msg string) {
	a.errors = append(a.errors, Finding{Kind: kind, Message: msg})
}

// Report builds the Report. Run level findings come first, followed by the
// findings of each repository in discovery order. Missing Parts (cancelled
// work) are left out.
func (a *Aggregator) Report(generatedAt time.Time) *Report {
	r := &Report{
		GeneratedAt:  generatedAt,
		Repositories: []RepositoryHealth{},
		Errors:       append([]Finding{}, a.errors...),
		Warnings:     append([]Finding{}, a.warnings...),
		Checks:       []CheckResult{},
		Compacts:     []CompactResult{},
	}
	for _, p := range a.parts {
		if p == nil {
			continue
		}
		r.Repositories = append(r.Repositories, p.Health)
		r.Errors = append(r.Errors, p.Errors...)
		r.Warnings = append(r.Warnings, p.Warnings...)
		r.Checks = append(r.Checks, p.Checks...)
		r.Compacts = append(r.Compacts, p.Compacts...)
	}
	return r
}
