package utils

import (
	"bytes"
	"fmt"
	"html/template"

	"intrahub/models"
)

// Base layout wrapping newsletter bodies. The preview text div is hidden
// by most clients but shown in the inbox preview line.
const newsletterLayout = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { color: #2c3e50; border-bottom: 1px solid #eee; padding-bottom: 10px; }
        .content { margin: 20px 0; }
        .footer { margin-top: 30px; font-size: 12px; color: #7f8c8d; text-align: center; }
    </style>
</head>
<body>
    <div style="display:none;max-height:0;overflow:hidden">{{.PreviewText}}</div>
    <div class="header">
        <h2>{{.Subject}}</h2>
    </div>

    <div class="content">
        {{if .RecipientName}}<p>Hello {{.RecipientName}},</p>{{end}}
        {{.Body}}
    </div>

    <div class="footer">
        <p>You received this because you are subscribed to internal updates.</p>
    </div>
</body>
</html>`

var newsletterTmpl = template.Must(template.New("newsletter").Parse(newsletterLayout))

// NewsletterRenderer produces the tracked, personalized HTML for one
// recipient of a newsletter.
type NewsletterRenderer struct{}

func NewNewsletterRenderer() *NewsletterRenderer {
	return &NewsletterRenderer{}
}

func (r *NewsletterRenderer) Render(newsletter *models.Newsletter, recipient *models.NewsletterRecipient, baseURL string) (string, error) {
	data := struct {
		Subject       string
		PreviewText   string
		RecipientName string
		Body          template.HTML
	}{
		Subject:       newsletter.Subject,
		PreviewText:   newsletter.PreviewText,
		RecipientName: recipient.Name,
		Body:          template.HTML(newsletter.BodyHTML),
	}

	var buf bytes.Buffer
	if err := newsletterTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render newsletter %d: %w", newsletter.ID, err)
	}

	return InjectTracking(buf.String(), baseURL, recipient.TrackingToken,
		newsletter.TrackOpens, newsletter.TrackClicks), nil
}
