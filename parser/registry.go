package parser

import (
	"fmt"
	"slices"
	"sync"

	"github.com/thisisjab/logsieve/entity"
	"github.com/thisisjab/logsieve/fault"
)

// DuplicatePolicy decides what happens when a parser is registered under a name that is already taken.
type DuplicatePolicy string

const (
	// DuplicateReject fails the registration.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateReplace swaps the parser in place, keeping its original position.
	DuplicateReplace DuplicatePolicy = "replace"
	// DuplicateIgnore keeps the parser that was registered first.
	DuplicateIgnore DuplicatePolicy = "ignore"
)

// MatchMode decides which parsers are applied to a line.
type MatchMode string

const (
	// MatchFirst stops at the first parser (in registration order) that matches.
	MatchFirst MatchMode = "first"
	// MatchAll returns a result for every parser that matches.
	MatchAll MatchMode = "all"
)

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(s); p {
	case "":
		return DuplicateReject, nil
	case DuplicateReject, DuplicateReplace, DuplicateIgnore:
		return p, nil
	default:
		return "", fmt.Errorf("invalid duplicate policy: %s", s)
	}
}

func ParseMatchMode(s string) (MatchMode, error) {
	switch m := MatchMode(s); m {
	case "":
		return MatchFirst, nil
	case MatchFirst, MatchAll:
		return m, nil
	default:
		return "", fmt.Errorf("invalid match mode: %s", s)
	}
}

type RegistryOptions struct {
	OnDuplicate DuplicatePolicy
	Match       MatchMode
}

// Match is the result of a parser accepting a line.
type Match struct {
	Parser string
	Record entity.Record
}

// Registry maps parser names to descriptors. It is populated at startup and then used by the host
// to parse lines, possibly from many goroutines at once.
type Registry struct {
	opts RegistryOptions

	mu sync.RWMutex
	// entries is never mutated in place; writers swap in a new slice so readers can iterate without holding the lock.
	entries []Descriptor
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.OnDuplicate == "" {
		opts.OnDuplicate = DuplicateReject
	}
	if opts.Match == "" {
		opts.Match = MatchFirst
	}

	return &Registry{opts: opts}
}

func (r *Registry) Options() RegistryOptions {
	return r.opts
}

// Register makes d known under d.Name.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return fault.New(fault.BadInputCode, "invalid parser descriptor").WithOriginal(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.entries, func(e Descriptor) bool { return e.Name == d.Name })
	if idx < 0 {
		r.entries = append(slices.Clone(r.entries), d)
		return nil
	}

	switch r.opts.OnDuplicate {
	case DuplicateReplace:
		entries := slices.Clone(r.entries)
		entries[idx] = d
		r.entries = entries
		return nil
	case DuplicateIgnore:
		return nil
	default:
		return fault.New(fault.ConflictCode, fmt.Sprintf("parser `%s` is already registered", d.Name))
	}
}

func (r *Registry) RegisterParser(p LineParser) error {
	return r.Register(FromLineParser(p))
}

func (r *Registry) Get(name string) (Descriptor, bool) {
	for _, d := range r.snapshot() {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Names returns registered parser names in registration order.
func (r *Registry) Names() []string {
	entries := r.snapshot()
	names := make([]string, len(entries))
	for i, d := range entries {
		names[i] = d.Name
	}
	return names
}

func (r *Registry) Len() int {
	return len(r.snapshot())
}

// Parse applies the registered parsers to line according to the match mode.
// An empty result means no parser recognized the line.
func (r *Registry) Parse(line string, ctx Context) []Match {
	return r.parse(line, ctx, nil)
}

// ParseOnly is like Parse but only considers parsers whose names are listed in only.
// An empty list means every parser is considered.
func (r *Registry) ParseOnly(line string, ctx Context, only []string) []Match {
	return r.parse(line, ctx, only)
}

func (r *Registry) parse(line string, ctx Context, only []string) []Match {
	var matches []Match

	for _, d := range r.snapshot() {
		if len(only) > 0 && !slices.Contains(only, d.Name) {
			continue
		}

		rec, ok := d.Parse(line, ctx)
		if !ok {
			continue
		}

		matches = append(matches, Match{Parser: d.Name, Record: rec})
		if r.opts.Match == MatchFirst {
			break
		}
	}

	return matches
}

func (r *Registry) snapshot() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries
}
