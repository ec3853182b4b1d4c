package brief

import (
	"regexp"
	"strings"
)

// Section is one labelled part of a brief.
type Section struct {
	HeaderName string // label as written, e.g. "Key Questions"
	Canonical  string // canonical name if matched, empty for custom headers
	Line       int    // zero-based line index of the label
	Content    string // inline text after a colon plus the following lines
}

// Brief labels appear in one of three forms:
//
//	## Objective
//	**Objective:** text   /   Objective: text
//	- Objective: text     /   - **Objective**: text
var (
	markdownHeaderPattern = regexp.MustCompile(`^#{1,6}\s+(.+?)[ \t:]*$`)
	labelPattern          = regexp.MustCompile(`^(?:[-*•]\s+)?(?:\*\*|__)?([A-Za-z][A-Za-z /]*?)(?:\*\*|__)?\s*:\s*(?:\*\*|__)?\s*(.*)$`)
	boldLinePattern       = regexp.MustCompile(`^(?:\*\*|__)([^*_]+?)(?:\*\*|__)\s*$`)
)

// fencePattern matches fenced code block delimiters with up to 3 spaces of indentation.
var fencePattern = regexp.MustCompile("^[ ]{0,3}(`{3,}|~{3,})")

// ParseSections finds labelled sections in a brief. Markdown headers always
// start a section; colon and bold labels only when they name a canonical
// section, so ordinary prose with a colon is left alone. Labels inside fenced
// code blocks are ignored. Returns nil when nothing is found.
func ParseSections(text string) []Section {
	lines := strings.Split(text, "\n")

	var sections []Section
	var fenceChar byte
	var fenceLen int

	flush := func(end int) {
		if len(sections) == 0 {
			return
		}
		cur := &sections[len(sections)-1]
		body := strings.Join(lines[cur.Line+1:end], "\n")
		cur.Content = strings.TrimSpace(strings.TrimSpace(cur.Content) + "\n" + body)
	}

	for i, line := range lines {
		if m := fencePattern.FindStringSubmatch(line); m != nil {
			char, n := m[1][0], len(m[1])
			switch {
			case fenceLen == 0:
				fenceChar, fenceLen = char, n
			case char == fenceChar && n >= fenceLen:
				fenceLen = 0
			}
			continue
		}
		if fenceLen > 0 {
			continue
		}

		name, inline, ok := matchLabel(strings.TrimSpace(line))
		if !ok {
			continue
		}
		flush(i)
		sections = append(sections, Section{
			HeaderName: name,
			Canonical:  MatchCanonical(name),
			Line:       i,
			Content:    inline,
		})
	}
	flush(len(lines))

	return sections
}

// matchLabel reports whether line starts a section.
func matchLabel(line string) (name, inline string, ok bool) {
	if m := markdownHeaderPattern.FindStringSubmatch(line); m != nil {
		return strings.Trim(m[1], "*_ "), "", true
	}
	if m := boldLinePattern.FindStringSubmatch(line); m != nil {
		name := strings.TrimRight(strings.TrimSpace(m[1]), ":")
		if MatchCanonical(name) != "" {
			return name, "", true
		}
	}
	if m := labelPattern.FindStringSubmatch(line); m != nil {
		name := strings.TrimSpace(m[1])
		if MatchCanonical(name) != "" {
			return name, strings.TrimSpace(m[2]), true
		}
	}
	return "", "", false
}

// FindSection finds a section by name (synonym-aware, case-insensitive).
// Falls back to an exact case-insensitive header match for custom sections.
func FindSection(sections []Section, name string) *Section {
	if len(sections) == 0 {
		return nil
	}

	if canonical := MatchCanonical(name); canonical != "" {
		for i := range sections {
			if sections[i].Canonical == canonical {
				return &sections[i]
			}
		}
	}

	nameLower := strings.ToLower(strings.TrimSpace(name))
	for i := range sections {
		if strings.ToLower(sections[i].HeaderName) == nameLower {
			return &sections[i]
		}
	}
	return nil
}

// SectionNames returns the header names of parsed sections.
// Useful for error messages listing available sections.
func SectionNames(sections []Section) []string {
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = s.HeaderName
	}
	return names
}
