package synthesis

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	lineBreakTags = regexp.MustCompile(`(?i)<\s*(?:br\s*/?|/p|/li|/div|/h[1-6]|/tr)\s*>`)
	anyTag        = regexp.MustCompile(`<[^>]*>`)
	spaceRuns     = regexp.MustCompile(`[ \t]+`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// stripMarkup flattens article HTML into plain text, keeping line structure
// where the markup implied it.
func stripMarkup(s string) string {
	if s == "" {
		return ""
	}
	s = lineBreakTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = spaceRuns.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// excerpt returns the opening of the text, cut at a sentence boundary where
// one falls inside the limit.
func excerpt(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	text = spaceRuns.ReplaceAllString(text, " ")
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= excerptLimit {
		return text
	}

	head := string(runes[:excerptLimit])
	if i := strings.LastIndex(head, ". "); i > excerptLimit/3 {
		return head[:i+1]
	}
	if i := strings.LastIndex(head, " "); i > 0 {
		head = head[:i]
	}
	return head + "..."
}

// stepMarker matches a numbered-step marker: a line-leading "3." or "3)"
// or an inline "Step 3:" form.
var stepMarker = regexp.MustCompile(`(?mi)(?:^[ \t]*|\bstep[ \t]+)(\d{1,2})[.):][ \t]+`)

// extractSteps pulls an ordered procedure out of the text. Markers must
// form the ascending run 1, 2, 3, ... and at least two steps are required;
// stray numbers that break the run are ignored. Each step keeps its marker:
// the "Step N:" form verbatim, numbered lines normalized to "N.".
func extractSteps(text string) []string {
	matches := stepMarker.FindAllStringSubmatchIndex(text, -1)
	if len(matches) < 2 {
		return nil
	}

	var steps []string
	for i, m := range matches {
		num := text[m[2]:m[3]]
		if num != strconv.Itoa(len(steps)+1) {
			continue
		}

		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		step := strings.TrimSpace(text[start:end])
		if cut := strings.Index(step, "\n\n"); cut >= 0 {
			step = strings.TrimSpace(step[:cut])
		}
		step = strings.ReplaceAll(step, "\n", " ")
		if step == "" {
			continue
		}
		marker := strings.TrimSpace(text[m[0]:m[1]])
		if strings.HasPrefix(strings.ToLower(marker), "step") {
			steps = append(steps, marker+" "+step)
		} else {
			steps = append(steps, num+". "+step)
		}
	}
	if len(steps) < 2 {
		return nil
	}
	return steps
}
