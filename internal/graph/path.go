package graph

import "strings"

// Marker is an optional per-field qualifier suffix in a path specification.
type Marker int

const (
	// MarkerNone leaves the qualifier to the builder's join mode.
	MarkerNone Marker = iota
	// MarkerOptional ("field?") demands an optional (left) join.
	MarkerOptional
	// MarkerRequired ("field!") demands an inner join.
	MarkerRequired
)

// Entry is one hop of a path specification. Nested entries continue the
// path past this hop; a leaf entry ends it.
type Entry struct {
	Field  string
	Marker Marker
	Nested []Entry
}

// ParsePath parses a dotted path specification into nested entries.
// Each segment is a field name optionally suffixed with "?" (optional/left
// join) or "!" (inner join): "articles.comments?" traverses articles and
// demands a left join on comments.
func ParsePath(spec string) ([]Entry, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, &MalformedPathError{Spec: spec, Reason: "empty path"}
	}
	segments := strings.Split(spec, ".")
	entries := make([]Entry, 0, len(segments))
	for _, segment := range segments {
		entry, err := parseSegment(spec, segment)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	// Nest right-to-left so "a.b.c" becomes a -> b -> c.
	root := entries[len(entries)-1]
	for i := len(entries) - 2; i >= 0; i-- {
		parent := entries[i]
		parent.Nested = []Entry{root}
		root = parent
	}
	return []Entry{root}, nil
}

func parseSegment(spec, segment string) (Entry, error) {
	if segment == "" {
		return Entry{}, &MalformedPathError{Spec: spec, Reason: "empty path segment"}
	}
	entry := Entry{}
	switch {
	case strings.HasSuffix(segment, "?"):
		entry.Marker = MarkerOptional
		segment = strings.TrimSuffix(segment, "?")
	case strings.HasSuffix(segment, "!"):
		entry.Marker = MarkerRequired
		segment = strings.TrimSuffix(segment, "!")
	}
	if segment == "" {
		return Entry{}, &MalformedPathError{Spec: spec, Reason: "segment has a marker but no field name"}
	}
	if strings.ContainsAny(segment, "?!") {
		return Entry{}, &MalformedPathError{Spec: spec, Reason: "marker is only allowed as a suffix"}
	}
	entry.Field = segment
	return entry, nil
}

// PathFields flattens a single-chain entry list into its field names.
// Branching specifications return only the first branch.
func PathFields(entries []Entry) []string {
	var fields []string
	for len(entries) > 0 {
		fields = append(fields, entries[0].Field)
		entries = entries[0].Nested
	}
	return fields
}
