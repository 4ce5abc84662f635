package extract

import (
	"regexp"
	"strings"
)

var (
	imgRegex       = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	blankRunsRegex = regexp.MustCompile(`\n{3,}`)
)

type tableRow struct {
	Key   string
	Value string
}

// FlattenMarkdown turns Docling markdown into analysis-ready text: images are
// dropped and two-column tables become "key: value" lines.
func FlattenMarkdown(md string) string {
	lines := strings.Split(md, "\n")
	var out []string

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if isSeparatorRow(line) {
			// rows above the separator were already emitted as text; drop them
			for len(out) > 0 && isTableRow(out[len(out)-1]) {
				out = out[:len(out)-1]
			}
			rows, next := parseLooseMarkdownTable(lines, i)
			for _, row := range rows {
				out = append(out, row.Key+": "+row.Value)
			}
			i = next - 1
			continue
		}

		if imgRegex.MatchString(line) {
			line = strings.TrimSpace(imgRegex.ReplaceAllString(line, ""))
			if line == "" {
				continue
			}
		}

		out = append(out, strings.TrimLeft(line, "# "))
	}

	text := strings.Join(out, "\n")
	text = blankRunsRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func isTableRow(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "|") && strings.Count(line, "|") >= 2
}

func isSeparatorRow(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "|") && strings.Contains(line, "---")
}

func splitRow(line string) []string {
	parts := strings.Split(line, "|")
	var cells []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cells = append(cells, p)
		}
	}
	return cells
}

// parseLooseMarkdownTable collects the rows around a separator line. Header
// rows above the separator come first, then the body rows below it.
func parseLooseMarkdownTable(lines []string, sepIndex int) ([]tableRow, int) {
	start := sepIndex - 1
	for start >= 0 && isTableRow(lines[start]) {
		start--
	}
	start++

	var rows []tableRow
	appendRow := func(line string) {
		cells := splitRow(line)
		switch {
		case len(cells) >= 2:
			rows = append(rows, tableRow{Key: cells[0], Value: strings.Join(cells[1:], " | ")})
		case len(cells) == 1 && len(rows) > 0:
			// continuation of the previous row's value
			rows[len(rows)-1].Value += " " + cells[0]
		}
	}

	for j := start; j < sepIndex; j++ {
		appendRow(lines[j])
	}
	i := sepIndex + 1
	for i < len(lines) && isTableRow(lines[i]) {
		appendRow(lines[i])
		i++
	}
	return rows, i
}
