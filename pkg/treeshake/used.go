package treeshake

import (
	"sort"
	"strings"
)

// UsedKind discriminates UsedExports.
type UsedKind int

const (
	// UsedNone means nothing references the module.
	UsedNone UsedKind = iota
	// UsedPartial means the module is referenced and only Names are consumed.
	UsedPartial
	// UsedAll means every export must be kept.
	UsedAll
)

func (k UsedKind) String() string {
	switch k {
	case UsedNone:
		return "none"
	case UsedPartial:
		return "partial"
	case UsedAll:
		return "all"
	default:
		return "unknown"
	}
}

// UsedExports accumulates the exports of a module known to be consumed.
// It only grows: None < Partial(names) < All.
type UsedExports struct {
	kind  UsedKind
	names map[string]bool
}

// NoneUsed returns an empty accumulator.
func NoneUsed() UsedExports { return UsedExports{} }

// AllUsed returns an accumulator pinned to All.
func AllUsed() UsedExports { return UsedExports{kind: UsedAll} }

// PartialUsed returns an accumulator holding names.
func PartialUsed(names ...string) UsedExports {
	u := UsedExports{kind: UsedPartial, names: make(map[string]bool, len(names))}
	for _, n := range names {
		u.names[n] = true
	}
	return u
}

// Kind returns the variant.
func (u UsedExports) Kind() UsedKind { return u.kind }

// IsNone reports whether nothing references the module.
func (u UsedExports) IsNone() bool { return u.kind == UsedNone }

// IsAll reports whether every export is kept.
func (u UsedExports) IsAll() bool { return u.kind == UsedAll }

// Has reports whether name is consumed.
func (u UsedExports) Has(name string) bool {
	switch u.kind {
	case UsedAll:
		return true
	case UsedPartial:
		return u.names[name]
	case UsedNone:
		return false
	}
	return false
}

// Names returns the consumed names, sorted. Empty for None and All.
func (u UsedExports) Names() []string {
	names := make([]string, 0, len(u.names))
	for n := range u.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Add records name and reports whether the accumulator grew.
func (u *UsedExports) Add(name string) bool {
	switch u.kind {
	case UsedAll:
		return false
	case UsedNone:
		u.kind = UsedPartial
		u.names = map[string]bool{name: true}
		return true
	case UsedPartial:
		if u.names[name] {
			return false
		}
		u.names[name] = true
		return true
	}
	return false
}

// Reference marks the module as referenced without consuming a name.
func (u *UsedExports) Reference() bool {
	if u.kind != UsedNone {
		return false
	}
	u.kind = UsedPartial
	u.names = make(map[string]bool)
	return true
}

// Escalate pins the accumulator to All.
func (u *UsedExports) Escalate() bool {
	if u.kind == UsedAll {
		return false
	}
	u.kind = UsedAll
	u.names = nil
	return true
}

func (u UsedExports) String() string {
	switch u.kind {
	case UsedPartial:
		return "partial(" + strings.Join(u.Names(), ",") + ")"
	default:
		return u.kind.String()
	}
}
