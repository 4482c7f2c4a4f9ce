package ics

import "strings"

// Lines is a block of logical (already unfolded) content lines.
type Lines []string

// SplitLines splits unfolded text into logical lines, dropping blank ones.
func SplitLines(text string) Lines {
	raw := strings.Split(text, "\n")
	out := make(Lines, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

// First returns the value of the first line whose property name equals
// name. Parameters attached to the name (";TZID=...") are ignored when
// matching.
func (ls Lines) First(name string) (string, bool) {
	for _, l := range ls {
		if v, ok := propertyValue(l, name); ok {
			return v, true
		}
	}
	return "", false
}

// All returns the values of every line matching name, in document order.
func (ls Lines) All(name string) []string {
	var out []string
	for _, l := range ls {
		if v, ok := propertyValue(l, name); ok {
			out = append(out, v)
		}
	}
	return out
}

// Params returns the parameters attached to the first line matching name,
// e.g. {"TZID": "Europe/Vienna"} for "DTSTART;TZID=Europe/Vienna:...".
func (ls Lines) Params(name string) map[string]string {
	for _, l := range ls {
		if _, ok := propertyValue(l, name); !ok {
			continue
		}
		colon := strings.IndexByte(l, ':')
		head := l[:colon]
		parts := strings.Split(head, ";")
		params := make(map[string]string, len(parts)-1)
		for _, p := range parts[1:] {
			k, v, found := strings.Cut(p, "=")
			if !found {
				continue
			}
			params[strings.ToUpper(k)] = strings.Trim(v, `"`)
		}
		return params
	}
	return nil
}

// propertyValue reports whether line carries property name, and if so
// returns everything after the first colon.
func propertyValue(line, name string) (string, bool) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return "", false
	}
	token := line[:colon]
	if semi := strings.IndexByte(token, ';'); semi >= 0 {
		token = token[:semi]
	}
	if !strings.EqualFold(strings.TrimSpace(token), name) {
		return "", false
	}
	return line[colon+1:], true
}
