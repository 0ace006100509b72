package parse

import (
	"fmt"
	"path/filepath"
	"strings"
)

func deriveTitle(text, fileName string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 160 {
			line = strings.TrimSpace(line[:160])
		}
		return line
	}
	base := filepath.Base(fileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// deriveInventors scans the head of the document for an inventor/author line.
// Patent-style documents list them as "Inventors: A; B" or "Inventor: A".
func deriveInventors(text string) []string {
	lines := strings.Split(text, "\n")
	limit := len(lines)
	if limit > 40 {
		limit = 40
	}
	for _, line := range lines[:limit] {
		lower := strings.ToLower(strings.TrimSpace(line))
		for _, prefix := range []string{"inventors:", "inventor:", "authors:", "author:"} {
			if strings.HasPrefix(lower, prefix) {
				raw := strings.TrimSpace(line[len(prefix):])
				return splitNames(raw)
			}
		}
	}
	return nil
}

func splitNames(raw string) []string {
	raw = strings.ReplaceAll(raw, ";", ",")
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// splitSections breaks the text on heading-like lines, falling back to
// even-sized chunks when no headings are found. At most maxSections sections
// are produced so the image fan-out stays bounded.
func splitSections(text string) []Section {
	lines := strings.Split(text, "\n")

	var sections []Section
	current := Section{Heading: "Introduction"}
	var buf []string

	flush := func() {
		body := strings.TrimSpace(strings.Join(buf, "\n"))
		if body != "" {
			current.Text = body
			sections = append(sections, current)
		}
		buf = buf[:0]
	}

	for _, line := range lines {
		if isHeading(line) && len(sections) < maxSections-1 {
			flush()
			current = Section{Heading: strings.TrimSpace(line)}
			continue
		}
		buf = append(buf, line)
	}
	flush()

	if len(sections) > 1 {
		return sections
	}
	return chunkSections(text)
}

func isHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || len(trimmed) > 80 {
		return false
	}
	if strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, ",") {
		return false
	}
	upper := 0
	letters := 0
	for _, r := range trimmed {
		if r >= 'A' && r <= 'Z' {
			upper++
			letters++
		} else if r >= 'a' && r <= 'z' {
			letters++
		}
	}
	if letters == 0 {
		return false
	}
	// All-caps short lines ("BACKGROUND", "DETAILED DESCRIPTION") read as headings.
	return upper == letters
}

func chunkSections(text string) []Section {
	const targetChunk = 2000

	text = strings.TrimSpace(text)
	n := len(text) / targetChunk
	if n < 1 {
		n = 1
	}
	if n > maxSections {
		n = maxSections
	}

	size := (len(text) + n - 1) / n
	var sections []Section
	for i := 0; i < n; i++ {
		start := i * size
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk == "" {
			continue
		}
		sections = append(sections, Section{
			Heading: fmt.Sprintf("Part %d", i+1),
			Text:    chunk,
		})
	}
	return sections
}
