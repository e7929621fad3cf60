// Package synthesis composes a single grounded answer from a knowledge
// search result set: relevance ranking, excerpt selection, procedure
// extraction, and follow-up suggestions. Synthesis is deterministic; the
// same result set and query always produce the same answer.
package synthesis

import (
	"sort"
	"strings"

	"github.com/txn2/mcp-servicenow-knowledge/pkg/servicenow"
)

// Relevance weights. Title matches dominate body matches; popularity terms
// are capped so view counts can never outrank textual relevance.
const (
	titlePhraseWeight = 100.0
	bodyPhraseWeight  = 50.0
	titleWordWeight   = 20.0
	bodyWordWeight    = 10.0

	viewWeight    = 0.1
	viewCap       = 20.0
	helpfulWeight = 2.0
	helpfulCap    = 30.0

	// minScoreWord is the minimum word length counted in word matching.
	minScoreWord = 3

	// redundancyThreshold is the normalized word-overlap ratio above which a
	// candidate excerpt adds nothing to the answer.
	redundancyThreshold = 0.7

	defaultMaxSources = 3
	maxFollowUps      = 3
	excerptLimit      = 320
)

// Source is one cited article.
type Source struct {
	SysID  string  `json:"sys_id"`
	Number string  `json:"number"`
	Title  string  `json:"title"`
	Link   string  `json:"link"`
	Score  float64 `json:"score"`
}

// Procedure is an ordered step list extracted from one cited article.
type Procedure struct {
	ArticleNumber string   `json:"article_number"`
	Title         string   `json:"title"`
	Steps         []string `json:"steps"`
}

// Answer is a synthesized response over the cited sources.
type Answer struct {
	Query         string      `json:"query"`
	Text          string      `json:"text"`
	Sources       []Source    `json:"sources"`
	Procedures    []Procedure `json:"procedures"`
	RelatedTopics []string    `json:"related_topics"`
	FollowUps     []string    `json:"follow_ups"`
	Fallback      bool        `json:"fallback"`
}

// Engine synthesizes answers. The zero value is ready to use.
type Engine struct{}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Synthesize builds the answer for a search result. It is total over any
// well-formed input and never returns an error; an empty result set yields
// the fallback answer.
func (e *Engine) Synthesize(result *servicenow.SearchResult, query string, maxSources int) *Answer {
	if maxSources <= 0 {
		maxSources = defaultMaxSources
	}
	if result == nil || len(result.Articles) == 0 {
		return fallbackAnswer(query)
	}

	ranked := rank(dedup(result.Articles), query)
	if len(ranked) > maxSources {
		ranked = ranked[:maxSources]
	}

	answer := &Answer{
		Query:         query,
		Sources:       make([]Source, 0, len(ranked)),
		RelatedTopics: result.RelatedTopics,
	}

	var excerpts []string
	for i, ra := range ranked {
		answer.Sources = append(answer.Sources, Source{
			SysID:  ra.article.SysID,
			Number: ra.article.Number,
			Title:  ra.article.ShortDescription,
			Link:   ra.article.DirectLink,
			Score:  ra.score,
		})

		body := stripMarkup(ra.article.Text)
		if ex := excerpt(body); ex != "" {
			if i == 0 || !redundant(ex, excerpts) {
				excerpts = append(excerpts, ex)
			}
		}

		if steps := extractSteps(body); len(steps) > 0 {
			answer.Procedures = append(answer.Procedures, Procedure{
				ArticleNumber: ra.article.Number,
				Title:         ra.article.ShortDescription,
				Steps:         steps,
			})
		}
	}

	answer.Text = strings.Join(excerpts, "\n\n")
	if answer.Text == "" {
		answer.Text = "See the cited articles for details on \"" + query + "\"."
	}
	answer.FollowUps = followUps(result.Articles, ranked[0].article, maxFollowUps)
	return answer
}

// rankedArticle pairs an article with its relevance score.
type rankedArticle struct {
	article servicenow.Article
	score   float64
}

// dedup drops repeated sys_ids, keeping first occurrences.
func dedup(articles []servicenow.Article) []servicenow.Article {
	seen := make(map[string]bool, len(articles))
	out := make([]servicenow.Article, 0, len(articles))
	for _, a := range articles {
		if seen[a.SysID] {
			continue
		}
		seen[a.SysID] = true
		out = append(out, a)
	}
	return out
}

// rank orders articles by descending relevance, ties broken by sys_id so
// the ordering is stable across runs.
func rank(articles []servicenow.Article, query string) []rankedArticle {
	ranked := make([]rankedArticle, 0, len(articles))
	for _, a := range articles {
		ranked = append(ranked, rankedArticle{article: a, score: score(a, query)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].article.SysID < ranked[j].article.SysID
	})
	return ranked
}

// score computes the relevance of one article for the query.
func score(a servicenow.Article, query string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	title := strings.ToLower(a.ShortDescription)
	body := strings.ToLower(stripMarkup(a.Text))

	var s float64
	if q != "" {
		if strings.Contains(title, q) {
			s += titlePhraseWeight
		}
		if strings.Contains(body, q) {
			s += bodyPhraseWeight
		}
		for _, w := range strings.Fields(q) {
			if len(w) < minScoreWord {
				continue
			}
			if strings.Contains(title, w) {
				s += titleWordWeight
			}
			if strings.Contains(body, w) {
				s += bodyWordWeight
			}
		}
	}

	s += min(float64(a.ViewCount)*viewWeight, viewCap)
	s += min(float64(a.HelpfulCount)*helpfulWeight, helpfulCap)
	return s
}

// redundant reports whether the candidate excerpt substantially repeats any
// already selected excerpt.
func redundant(candidate string, selected []string) bool {
	cw := wordSet(candidate)
	if len(cw) == 0 {
		return true
	}
	for _, s := range selected {
		sw := wordSet(s)
		smaller := len(cw)
		if len(sw) < smaller {
			smaller = len(sw)
		}
		if smaller == 0 {
			continue
		}
		common := 0
		for w := range cw {
			if sw[w] {
				common++
			}
		}
		if float64(common)/float64(smaller) >= redundancyThreshold {
			return true
		}
	}
	return false
}

// wordSet lowercases and collects the significant words of a string.
func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) >= minScoreWord {
			set[w] = true
		}
	}
	return set
}

// followUps ranks topic, category, and subcategory values by frequency over
// the full result set, excluding the top article's own topic. Ties resolve
// alphabetically.
func followUps(articles []servicenow.Article, top servicenow.Article, limit int) []string {
	counts := make(map[string]int)
	for _, a := range articles {
		for _, v := range []string{a.Topic, a.Category, a.Subcategory} {
			v = strings.TrimSpace(v)
			if v == "" || v == top.Topic {
				continue
			}
			counts[v]++
		}
	}

	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		if counts[values[i]] != counts[values[j]] {
			return counts[values[i]] > counts[values[j]]
		}
		return values[i] < values[j]
	})

	if len(values) > limit {
		values = values[:limit]
	}
	return values
}

// fallbackAnswer is returned when nothing matched.
func fallbackAnswer(query string) *Answer {
	return &Answer{
		Query:    query,
		Text:     "No published knowledge articles matched \"" + query + "\".",
		Fallback: true,
		FollowUps: []string{
			"Try a broader or differently worded search",
			"Search by article number (KB followed by digits)",
			"Ask about a specific product or service name",
		},
	}
}
