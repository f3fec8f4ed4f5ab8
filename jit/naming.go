package jit

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Exclusions is the set of methods never handed to the backend. An entry
// is a class name, "Class#method", or a bare method name.
type Exclusions struct {
	entries map[string]struct{}
}

// NewExclusions builds an exclusion set. Blank entries are ignored.
func NewExclusions(entries []string) *Exclusions {
	x := &Exclusions{entries: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			x.entries[e] = struct{}{}
		}
	}
	return x
}

// Excludes reports whether className#methodName matches an entry.
func (x *Exclusions) Excludes(className, methodName string) bool {
	if x == nil || len(x.entries) == 0 {
		return false
	}
	for _, key := range []string{className, className + "#" + methodName, methodName} {
		if _, ok := x.entries[key]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (x *Exclusions) Len() int {
	if x == nil {
		return 0
	}
	return len(x.entries)
}

// Symbol names a compiled unit:
//
//	<class>_<method>_<sha1>[_<salt>]
//
// Characters that cannot appear in a Go identifier are hex-escaped, so
// operator methods such as "+" and "<<" stay distinct.
func Symbol(className, methodName, hash, salt string) string {
	var b strings.Builder
	b.WriteString(sanitize(className))
	b.WriteByte('_')
	b.WriteString(sanitize(methodName))
	b.WriteByte('_')
	b.WriteString(hash)
	if salt != "" {
		b.WriteByte('_')
		b.WriteString(salt)
	}
	return b.String()
}

// Salt derives the per-runtime symbol suffix from a runtime id.
func Salt(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "x%02x", r)
		}
	}
	return b.String()
}
