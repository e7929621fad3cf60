package servicenow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchRequest_ResolveMode(t *testing.T) {
	cases := []struct {
		name  string
		req   SearchRequest
		want  SearchMode
	}{
		{"explicit mode wins", SearchRequest{Query: "KB0010042", Mode: ModeContent}, ModeContent},
		{"sys_id", SearchRequest{Query: "0123456789abcdef0123456789abcdef"}, ModeID},
		{"kb number", SearchRequest{Query: "KB0010042"}, ModeNumber},
		{"kb number lowercase", SearchRequest{Query: "kb0010042"}, ModeNumber},
		{"short number is content", SearchRequest{Query: "KB1234"}, ModeContent},
		{"uppercase hex is content", SearchRequest{Query: "0123456789ABCDEF0123456789ABCDEF"}, ModeContent},
		{"plain text", SearchRequest{Query: "reset my password"}, ModeContent},
		{"whitespace trimmed", SearchRequest{Query: "  KB0010042  "}, ModeNumber},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.req.ResolveMode())
		})
	}
}

func TestArticle_RoleList(t *testing.T) {
	a := Article{Roles: "itil, admin,,knowledge "}
	assert.Equal(t, []string{"itil", "admin", "knowledge"}, a.RoleList())

	public := Article{}
	assert.Nil(t, public.RoleList())
}

func TestArticleRecord_ToArticle(t *testing.T) {
	rec := articleRecord{
		SysID:            "abc123",
		Number:           "KB0010042",
		ShortDescription: "VPN Setup",
		WorkflowState:    "published",
		ViewCount:        "1,024",
		HelpfulCount:     "",
	}

	a := rec.toArticle("https://dev.service-now.com")

	assert.Equal(t, 1024, a.ViewCount)
	assert.Equal(t, 0, a.HelpfulCount)
	assert.Equal(t, "https://dev.service-now.com/kb_view.do?sysparm_article=KB0010042", a.DirectLink)
	assert.True(t, a.Published())
}

func TestRelatedTopics(t *testing.T) {
	articles := []Article{
		{Topic: "Network"},
		{Topic: "Network"},
		{Topic: ""},
		{Topic: "Security"},
		{Topic: "Email"},
		{Topic: "Hardware"},
	}

	assert.Equal(t, []string{"Network", "Security", "Email"}, relatedTopics(articles, 3))
	assert.Empty(t, relatedTopics(nil, 5))
}
