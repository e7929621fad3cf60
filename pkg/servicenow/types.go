// Package servicenow provides the ServiceNow knowledge base client: access
// filtered query construction and execution against the Table API over a
// bounded-retry transport.
package servicenow

import (
	"regexp"
	"strconv"
	"strings"
)

// SearchMode selects the search predicate used against the knowledge table.
type SearchMode string

const (
	// ModeID matches sys_id exactly.
	ModeID SearchMode = "sys_id"

	// ModeNumber matches the article number exactly.
	ModeNumber SearchMode = "number"

	// ModeTitleExact matches the title exactly.
	ModeTitleExact SearchMode = "title_exact"

	// ModeTitlePartial matches a case-insensitive substring of the title.
	ModeTitlePartial SearchMode = "title_partial"

	// ModeContent matches a case-insensitive substring of title or body.
	// This is the default.
	ModeContent SearchMode = "content"
)

// workflowStatePublished is the only lifecycle state eligible for return.
const workflowStatePublished = "published"

var (
	sysIDPattern  = regexp.MustCompile(`^[0-9a-f]{32}$`)
	numberPattern = regexp.MustCompile(`^(?i)KB\d{7,}$`)
)

// SearchRequest describes one knowledge search.
type SearchRequest struct {
	Query string
	Mode  SearchMode
	Limit int
}

// ResolveMode returns the effective search mode for the request. An explicit
// mode wins; otherwise the query text is classified by a priority cascade so
// a precise identifier lookup is never diluted by fuzzy matching: sys_id,
// then article number, then content.
func (r SearchRequest) ResolveMode() SearchMode {
	if r.Mode != "" {
		return r.Mode
	}
	q := strings.TrimSpace(r.Query)
	switch {
	case sysIDPattern.MatchString(q):
		return ModeID
	case numberPattern.MatchString(q):
		return ModeNumber
	default:
		return ModeContent
	}
}

// Article is a knowledge article as returned by the Table API.
type Article struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Text             string `json:"text"`
	Topic            string `json:"topic"`
	Category         string `json:"category"`
	Subcategory      string `json:"subcategory"`
	WorkflowState    string `json:"workflow_state"`

	// Roles is the comma-separated role list guarding the article. Empty
	// means public.
	Roles string `json:"roles"`

	// ReadCriteria is the opaque user-criteria expression; evaluated
	// upstream, carried through for display only.
	ReadCriteria string `json:"can_read_user_criteria"`

	ViewCount    int    `json:"view_count"`
	HelpfulCount int    `json:"helpful_count"`
	DirectLink   string `json:"direct_link"`
}

// RoleList returns the article's required roles as a slice. An empty result
// means the article is public.
func (a *Article) RoleList() []string {
	if a.Roles == "" {
		return nil
	}
	parts := strings.Split(a.Roles, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Published reports whether the article is in the published lifecycle state.
func (a *Article) Published() bool {
	return a.WorkflowState == workflowStatePublished
}

// SearchResult is a typed knowledge search result set.
type SearchResult struct {
	Articles      []Article `json:"articles"`
	TotalCount    int       `json:"total_count"`
	Query         string    `json:"query"`
	RelatedTopics []string  `json:"related_topics"`
}

// articleRecord is the wire form of a Table API row. With display values
// enabled every field arrives as a string, including the counters.
type articleRecord struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Text             string `json:"text"`
	Topic            string `json:"topic"`
	Category         string `json:"category"`
	Subcategory      string `json:"subcategory"`
	WorkflowState    string `json:"workflow_state"`
	Roles            string `json:"roles"`
	ReadCriteria     string `json:"can_read_user_criteria"`
	ViewCount        string `json:"view_count"`
	HelpfulCount     string `json:"helpful_count"`
}

// toArticle converts a wire record into an Article, attaching the canonical
// article link for the given instance.
func (r *articleRecord) toArticle(instanceURL string) Article {
	return Article{
		SysID:            r.SysID,
		Number:           r.Number,
		ShortDescription: r.ShortDescription,
		Text:             r.Text,
		Topic:            r.Topic,
		Category:         r.Category,
		Subcategory:      r.Subcategory,
		WorkflowState:    r.WorkflowState,
		Roles:            r.Roles,
		ReadCriteria:     r.ReadCriteria,
		ViewCount:        atoiOrZero(r.ViewCount),
		HelpfulCount:     atoiOrZero(r.HelpfulCount),
		DirectLink:       instanceURL + "/kb_view.do?sysparm_article=" + r.Number,
	}
}

// atoiOrZero parses a counter display value, tolerating blanks and
// thousands separators.
func atoiOrZero(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// relatedTopics collects distinct non-empty topics in first-seen order.
func relatedTopics(articles []Article, limit int) []string {
	seen := make(map[string]bool)
	var topics []string
	for _, a := range articles {
		topic := strings.TrimSpace(a.Topic)
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		topics = append(topics, topic)
		if len(topics) >= limit {
			break
		}
	}
	return topics
}
