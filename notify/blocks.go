package notify

import "time"

// message is a Slack Block Kit payload.
type message struct {
	Text   string  `json:"text"`
	Blocks []block `json:"blocks"`
}

type block struct {
	Type     string `json:"type"`
	Text     *text  `json:"text,omitempty"`
	Fields   []text `json:"fields,omitempty"`
	Elements []text `json:"elements,omitempty"`
}

type text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func header(s string) block {
	return block{Type: "header", Text: &text{Type: "plain_text", Text: s, Emoji: true}}
}

func fields(f ...string) block {
	b := block{Type: "section"}
	for _, s := range f {
		b.Fields = append(b.Fields, text{Type: "mrkdwn", Text: s})
	}
	return b
}

func section(s string) block {
	return block{Type: "section", Text: &text{Type: "mrkdwn", Text: s}}
}

func footer(s string) block {
	return block{Type: "context", Elements: []text{{Type: "mrkdwn", Text: s}}}
}

func (s *Slack) siteLink() string {
	if s.siteURL == "" {
		return s.siteName
	}
	return "<" + s.siteURL + "|" + s.siteName + ">"
}

func (s *Slack) failureMessage(ev Event) message {
	title := "⚠️ NGINX Cache Purge Failed"
	return message{
		Text: title,
		Blocks: []block{
			header(title),
			fields(
				"*Site:*\n"+s.siteLink(),
				"*Time:*\n"+ev.Time.Format(time.DateTime),
			),
			fields(
				"*Request:*\n"+ev.Kind,
				"*Request ID:*\n"+ev.RequestID,
			),
			section("*Error:*\n```" + ev.Message + "```"),
			footer("Sent by cache-purge"),
		},
	}
}

func (s *Slack) testMessage() message {
	title := "✅ Cache purge Slack alerts configured"
	return message{
		Text: title,
		Blocks: []block{
			header(title),
			fields(
				"*Site:*\n"+s.siteLink(),
				"*Time:*\n"+s.now().Format(time.DateTime),
			),
			footer("Sent by cache-purge"),
		},
	}
}
