package client

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/LeventeLantos/contact-relay/internal/model"
)

func summarySubject(entries []model.QueueEntry) string {
	if len(entries) == 1 {
		return fmt.Sprintf("New contact message from %s", displayName(entries[0]))
	}
	return fmt.Sprintf("%d new contact messages", len(entries))
}

func displayName(e model.QueueEntry) string {
	if strings.TrimSpace(e.Name) != "" {
		return e.Name
	}
	if strings.TrimSpace(e.Email) != "" {
		return e.Email
	}
	return "anonymous"
}

func summaryText(entries []model.QueueEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", summarySubject(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "\n#%d %s <%s> at %s\n", i+1, e.Name, e.Email, e.CreatedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "%s\n", e.Message)
	}
	return b.String()
}

func summaryHTML(entries []model.QueueEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(summarySubject(entries)))
	for _, e := range entries {
		b.WriteString("<div style=\"margin-bottom:16px;padding:12px;border-left:3px solid #999\">\n")
		fmt.Fprintf(&b, "<p><strong>%s</strong> &lt;%s&gt;<br><small>%s</small></p>\n",
			html.EscapeString(e.Name),
			html.EscapeString(e.Email),
			e.CreatedAt.UTC().Format(time.RFC1123),
		)
		fmt.Fprintf(&b, "<p style=\"white-space:pre-wrap\">%s</p>\n", html.EscapeString(e.Message))
		b.WriteString("</div>\n")
	}
	return b.String()
}
