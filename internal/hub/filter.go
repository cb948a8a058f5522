package hub

import "sort"

// Filter is a per-subscription symbol filter: either wildcard (all symbols)
// or an explicit set. Re-subscribing only ever widens the set.
type Filter struct {
	all  bool
	syms map[string]struct{}
}

// NewFilter builds a filter from a requested symbol list.
// An empty list is the wildcard.
func NewFilter(syms []string) *Filter {
	f := &Filter{}
	f.Union(syms)
	return f
}

// Union widens the filter with additional symbols. An empty list upgrades
// the filter to the wildcard. Widening is monotonic: symbols are never
// removed.
func (f *Filter) Union(syms []string) {
	if len(syms) == 0 {
		f.all = true
		f.syms = nil
		return
	}
	if f.all {
		return
	}
	if f.syms == nil {
		f.syms = make(map[string]struct{}, len(syms))
	}
	for _, sym := range syms {
		f.syms[sym] = struct{}{}
	}
}

// Match reports whether a row with the symbol passes the filter.
func (f *Filter) Match(sym string) bool {
	if f.all {
		return true
	}
	_, ok := f.syms[sym]
	return ok
}

// Wildcard reports whether the filter matches every symbol.
func (f *Filter) Wildcard() bool {
	return f.all
}

// Symbols returns the explicit symbol set in sorted order, nil for wildcard.
func (f *Filter) Symbols() []string {
	if f.all {
		return nil
	}
	out := make([]string, 0, len(f.syms))
	for sym := range f.syms {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
