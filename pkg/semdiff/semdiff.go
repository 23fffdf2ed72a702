// Package semdiff implements the section-aware semantic diff (spec
// section 4.5) that drives SemanticDiffValidator: a deterministic,
// order-preserving comparison between two device configuration texts
// that ignores within-section line ordering.
//
// Grounded on the teacher's discipline (trust/compliance.go,
// canonicalize/jcs.go) of never letting map iteration order leak into
// output; semdiff gets its determinism without sorting, by emitting
// sections in their order of first appearance in the input texts.
package semdiff

import "strings"

// ChangeType classifies how a section differs between two configs.
type ChangeType string

const (
	Added     ChangeType = "ADDED"
	Removed   ChangeType = "REMOVED"
	Modified  ChangeType = "MODIFIED"
	Unchanged ChangeType = "UNCHANGED"
)

// SectionDiff describes one section's change between before and after.
type SectionDiff struct {
	Section     string     `json:"section"`
	ChangeType  ChangeType `json:"change_type"`
	BeforeLines []string   `json:"before_lines,omitempty"`
	AfterLines  []string   `json:"after_lines,omitempty"`
}

// section is a column-0 header line plus the indented lines beneath it.
type section struct {
	header string
	lines  []string // lines belonging to the section, header first
}

// tokenize splits a config into sections. A section begins at a line
// with column-0 indentation that is not a comment ("!" or "#") and not
// blank; subsequent indented lines belong to that section until the
// next column-0 line. A top-level line with no sub-lines is a
// single-line section.
func tokenize(config string) []section {
	var sections []section
	var current *section

	lines := strings.Split(config, "\n")
	for _, raw := range lines {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if isColumnZero(raw) {
			if isComment(raw) {
				current = nil
				continue
			}
			sections = append(sections, section{header: raw, lines: []string{raw}})
			current = &sections[len(sections)-1]
			continue
		}
		// indented line: belongs to the current section, if any.
		if current != nil {
			current.lines = append(current.lines, raw)
		}
	}
	return sections
}

func isColumnZero(line string) bool {
	if line == "" {
		return false
	}
	return line[0] != ' ' && line[0] != '\t'
}

func isComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "!") || strings.HasPrefix(trimmed, "#")
}

// bodySet returns the section's body lines (sans header) as a
// deduplicated, order-insensitive set for equality comparison.
func bodySet(s section) map[string]bool {
	set := make(map[string]bool, len(s.lines))
	for _, l := range s.lines[1:] {
		set[l] = true
	}
	return set
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// Diff computes the section-aware diff between before and after
// configs, returning one entry per ADDED, REMOVED, or MODIFIED
// section (UNCHANGED sections produce no entry). Ordering: entries are
// ordered by first appearance in the after-config, then by first
// appearance in the before-config for REMOVED sections that have no
// counterpart in after. Output is deterministic for identical inputs,
// and Diff(c, c) == nil for any config c.
func Diff(before, after string) []SectionDiff {
	beforeSections := tokenize(before)
	afterSections := tokenize(after)

	beforeByHeader := make(map[string]section, len(beforeSections))
	beforeOrder := make([]string, 0, len(beforeSections))
	for _, s := range beforeSections {
		if _, exists := beforeByHeader[s.header]; !exists {
			beforeOrder = append(beforeOrder, s.header)
		}
		beforeByHeader[s.header] = s
	}

	afterByHeader := make(map[string]section, len(afterSections))
	seenAfter := make(map[string]bool, len(afterSections))
	var diffs []SectionDiff

	for _, s := range afterSections {
		if seenAfter[s.header] {
			continue
		}
		seenAfter[s.header] = true
		afterByHeader[s.header] = s

		beforeSec, existedBefore := beforeByHeader[s.header]
		if !existedBefore {
			diffs = append(diffs, SectionDiff{
				Section:    s.header,
				ChangeType: Added,
				AfterLines: s.lines,
			})
			continue
		}

		if setsEqual(bodySet(beforeSec), bodySet(s)) {
			// UNCHANGED: no diff entry, but this section has been
			// accounted for and will not reappear as REMOVED below.
			continue
		}

		diffs = append(diffs, SectionDiff{
			Section:     s.header,
			ChangeType:  Modified,
			BeforeLines: beforeSec.lines,
			AfterLines:  s.lines,
		})
	}

	// REMOVED sections, ordered by first appearance in before.
	for _, header := range beforeOrder {
		if seenAfter[header] {
			continue
		}
		diffs = append(diffs, SectionDiff{
			Section:     header,
			ChangeType:  Removed,
			BeforeLines: beforeByHeader[header].lines,
		})
	}

	return diffs
}
