package domain

import "strings"

// Join appends name to parent without doubling the separator when parent is
// the filesystem root.
func Join(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// Base returns the last component of p, ignoring trailing slashes.
func Base(p string) string {
	p = TrimTrailingSlashes(p)
	if p == "/" {
		return p
	}
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Rebase replaces the from prefix of p with to. p must be from or lie
// beneath it.
func Rebase(p, from, to string) string {
	rel := p
	if from != "/" {
		rel = strings.TrimPrefix(p, from)
	}
	switch {
	case rel == "":
		return to
	case to == "/":
		return rel
	default:
		return to + rel
	}
}

// TrimTrailingSlashes strips trailing separators but never reduces "/" to "".
func TrimTrailingSlashes(p string) string {
	for len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}
