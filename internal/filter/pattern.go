package filter

import (
	"errors"
	"regexp"
	"strings"
)

// pattern is an rsync-style glob compiled to a regular expression.
//
//   - a leading "/" or any inner "/" anchors the pattern at the walk root,
//     otherwise it may match any trailing run of path components
//   - a trailing "/" restricts the pattern to directories
//   - "*" and "?" stop at "/", "**" does not, "[...]" is a class
//   - "\" escapes the next character
type pattern struct {
	re      *regexp.Regexp
	dirOnly bool
}

func compile(glob string) (*pattern, error) {
	if glob == "" || glob == "/" {
		return nil, errors.New("empty pattern")
	}
	p := &pattern{}
	if strings.HasSuffix(glob, "/") {
		p.dirOnly = true
		glob = strings.TrimSuffix(glob, "/")
	}

	anchored := strings.Contains(glob, "/")
	glob = strings.TrimPrefix(glob, "/")

	var b strings.Builder
	if anchored {
		b.WriteString("^")
	} else {
		b.WriteString("(?:^|/)")
	}
	if err := translate(&b, glob); err != nil {
		return nil, err
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	p.re = re
	return p, nil
}

func (p *pattern) match(rel string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}
	return p.re.MatchString(rel)
}

var classEscaper = strings.NewReplacer(`\`, `\\`, `]`, `\]`, `[`, `\[`, `^`, `\^`)

func translate(b *strings.Builder, glob string) error {
	for i := 0; i < len(glob); i++ {
		switch c := glob[i]; c {
		case '\\':
			if i+1 == len(glob) {
				return errors.New("trailing backslash")
			}
			i++
			b.WriteString(regexp.QuoteMeta(glob[i : i+1]))
		case '*':
			if !strings.HasPrefix(glob[i:], "**") {
				b.WriteString("[^/]*")
				continue
			}
			if strings.HasPrefix(glob[i:], "**/") {
				b.WriteString("(?:.*/)?")
				i += 2
			} else {
				b.WriteString(".*")
				i++
			}
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := classEnd(glob, i)
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			cls := glob[i+1 : end]
			b.WriteString("[")
			if strings.HasPrefix(cls, "!") {
				b.WriteString("^")
				cls = cls[1:]
			}
			b.WriteString(classEscaper.Replace(cls))
			b.WriteString("]")
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return nil
}

// classEnd returns the index of the "]" closing the class opened at
// glob[start], or -1. A "]" right after "[" or "[!" is a literal member.
func classEnd(glob string, start int) int {
	j := start + 1
	if j < len(glob) && glob[j] == '!' {
		j++
	}
	if j < len(glob) && glob[j] == ']' {
		j++
	}
	if k := strings.IndexByte(glob[j:], ']'); k >= 0 {
		return j + k
	}
	return -1
}
