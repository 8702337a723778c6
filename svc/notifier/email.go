package notifier

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/dmitrymomot/postpipe/pkg/email"
	"github.com/dmitrymomot/postpipe/svc/post"
)

const failureEmailTag = "post-delivery-failed"

// excerptLen bounds how much post content appears in the email.
const excerptLen = 140

var failureBodyTmpl = template.Must(template.New("failure").Parse(`
<p>Your scheduled post could not be published.</p>
<blockquote>{{.Excerpt}}</blockquote>
{{if .ScheduledFor}}<p>It was scheduled for {{.ScheduledFor}}.</p>{{end}}
<p>What went wrong: {{.Reason}}</p>
<p>We tried {{.Attempts}} time{{if ne .Attempts 1}}s{{end}} before giving up.
You can edit the post and schedule it again from your dashboard.</p>
`))

// EmailNotifier implements Notifier by emailing the post's owner.
type EmailNotifier struct {
	sender     email.EmailSender
	recipients RecipientSource
}

// NewEmailNotifier creates an email-backed failure notifier.
func NewEmailNotifier(sender email.EmailSender, recipients RecipientSource) (*EmailNotifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("email notifier: nil sender")
	}
	if recipients == nil {
		return nil, fmt.Errorf("email notifier: nil recipient source")
	}
	return &EmailNotifier{sender: sender, recipients: recipients}, nil
}

// NotifyFailure implements Notifier.
func (n *EmailNotifier) NotifyFailure(ctx context.Context, p *post.Post, reason string) error {
	addr, err := n.recipients.EmailFor(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	var body strings.Builder
	data := struct {
		Excerpt      string
		ScheduledFor string
		Reason       string
		Attempts     int
	}{
		Excerpt:  excerpt(p.Content),
		Reason:   reason,
		Attempts: p.RetryCount + 1,
	}
	if p.ScheduledFor != nil {
		data.ScheduledFor = p.ScheduledFor.Format(time.RFC1123)
	}
	if err := failureBodyTmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("render failure email: %w", err)
	}

	err = n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   addr,
		Subject:  "Your scheduled post could not be published",
		BodyHTML: body.String(),
		Tag:      failureEmailTag,
	})
	if err != nil {
		return fmt.Errorf("send failure email: %w", err)
	}
	return nil
}

func excerpt(content string) string {
	if len(content) <= excerptLen {
		return content
	}
	return content[:excerptLen] + "…"
}
