// Package pathintern canonicalizes archive member paths into small,
// comparable handles. Tar archives routinely repeat the same directory
// prefix across thousands of entries; interning each path component once
// keeps a large manifest's memory proportional to the number of distinct
// components, not the number of entries.
package pathintern

import (
	"strings"
	"unique"
)

// Path is the canonical, comparable representation of an interned archive
// path. The zero value represents the archive root.
type Path struct {
	handle unique.Handle[node]
}

type node struct {
	dir  unique.Handle[node]
	base unique.Handle[string]
}

// New interns name, which is interpreted as a slash-separated path relative
// to the archive root (a leading "/" is ignored, as tar paths are never
// absolute in the filesystem sense).
func New(name string) Path {
	var root Path
	return root.Join(name)
}

// Join interns name's components onto p, a cheap equivalent of
// New(path.Join(p.String(), name)).
func (p Path) Join(name string) Path {
	for component := range strings.SplitSeq(strings.TrimPrefix(name, "/"), "/") {
		switch component {
		case "", ".":
			continue
		case "..":
			p = p.Dir()
		default:
			p = Path{unique.Make(node{dir: p.handle, base: unique.Make(component)})}
		}
	}
	return p
}

// String reconstructs the slash-separated path.
func (p Path) String() string {
	var components []string
	length := 0
	for h := p.handle; !isZero(h); {
		n := h.Value()
		s := n.base.Value()
		components = append(components, s)
		length += len(s)
		h = n.dir
	}
	if len(components) == 0 {
		return "."
	}
	var b strings.Builder
	b.Grow(length + len(components) - 1)
	for i := len(components) - 1; i >= 0; i-- {
		b.WriteString(components[i])
		if i != 0 {
			b.WriteByte('/')
		}
	}
	return b.String()
}

// Base returns the final path component, without walking the full chain.
func (p Path) Base() string {
	if isZero(p.handle) {
		return "."
	}
	return p.handle.Value().base.Value()
}

// Dir returns the containing directory.
func (p Path) Dir() Path {
	if isZero(p.handle) {
		return Path{}
	}
	return Path{p.handle.Value().dir}
}

// IsWithin reports whether p is parent itself or nested under it.
func (p Path) IsWithin(parent Path) bool {
	for {
		if p == parent {
			return true
		}
		if isZero(p.handle) {
			return false
		}
		p = p.Dir()
	}
}

func isZero(h unique.Handle[node]) bool {
	var zero unique.Handle[node]
	return h == zero
}
