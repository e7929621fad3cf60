package synthesis

import (
	"fmt"
	"strings"
)

// FormatAnswer renders the answer as markdown for tool text content.
func FormatAnswer(a *Answer) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## %s\n\n", a.Query)
	b.WriteString(a.Text)
	b.WriteString("\n")

	for _, p := range a.Procedures {
		fmt.Fprintf(&b, "\n### Steps: %s (%s)\n", p.Title, p.ArticleNumber)
		for _, step := range p.Steps {
			fmt.Fprintf(&b, "%s\n", step)
		}
	}

	if len(a.Sources) > 0 {
		b.WriteString("\n### Sources\n")
		for _, s := range a.Sources {
			fmt.Fprintf(&b, "- [%s](%s) (%s)\n", s.Title, s.Link, s.Number)
		}
	}

	if len(a.RelatedTopics) > 0 {
		b.WriteString("\n### Related Topics\n")
		for _, topic := range a.RelatedTopics {
			fmt.Fprintf(&b, "- %s\n", topic)
		}
	}

	if len(a.FollowUps) > 0 {
		b.WriteString("\n### You Might Also Explore\n")
		for _, f := range a.FollowUps {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	return b.String()
}
