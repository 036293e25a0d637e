package render

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/csheth/chatterm/internal/remote"
)

var (
	// proseSanitizer drops any markup the assistant emitted and escapes the rest.
	proseSanitizer = bluemonday.StrictPolicy()
	documentPolicy = newDocumentPolicy()
)

func newDocumentPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(regexp.MustCompile(`^[A-Za-z0-9 _-]+$`)).OnElements("article", "section", "header", "code", "pre")
	policy.AllowElements("article", "section", "header", "time")
	policy.AllowAttrs("datetime").OnElements("time")
	return policy
}

// HTMLTranscript renders a conversation as a standalone HTML fragment. Prose
// is reduced to text, code is escaped, and the result is sanitised again as a
// whole.
func HTMLTranscript(title string, messages []remote.Message) string {
	var b strings.Builder
	b.WriteString(`<article class="transcript">`)
	fmt.Fprintf(&b, "<h1>%s</h1>", html.EscapeString(DisplayTitle(title)))
	for _, msg := range messages {
		role := string(msg.Role)
		fmt.Fprintf(&b, `<section class="message %s">`, role)
		b.WriteString("<header>")
		b.WriteString(html.EscapeString(role))
		if !msg.CreatedAt.IsZero() {
			stamp := msg.CreatedAt.UTC().Format(time.RFC3339)
			fmt.Fprintf(&b, ` <time datetime="%s">%s</time>`, stamp, stamp)
		}
		b.WriteString("</header>")
		for _, seg := range Parse(msg.Content) {
			writeSegmentHTML(&b, seg)
		}
		b.WriteString("</section>")
	}
	b.WriteString("</article>")
	return documentPolicy.Sanitize(b.String())
}

func writeSegmentHTML(b *strings.Builder, seg Segment) {
	switch seg.Kind {
	case KindCode:
		if seg.Language != "" {
			fmt.Fprintf(b, `<pre><code class="language-%s">`, seg.Language)
		} else {
			b.WriteString("<pre><code>")
		}
		b.WriteString(html.EscapeString(seg.Text))
		b.WriteString("</code></pre>")
	default:
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			return
		}
		for _, para := range strings.Split(text, "\n\n") {
			para = strings.TrimSpace(proseSanitizer.Sanitize(para))
			if para == "" {
				continue
			}
			b.WriteString("<p>")
			b.WriteString(strings.ReplaceAll(para, "\n", "<br>"))
			b.WriteString("</p>")
		}
	}
}
