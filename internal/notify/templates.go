package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"

	"github.com/BradenHooton/mailgate/internal/models"
)

type message struct {
	Subject string
	Text    string
	HTML    string
}

type templateData struct {
	Link      string
	ExpiresAt string
	Alert     string
}

type template struct {
	subject string
	path    string // link path, empty when the message carries no action
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

const htmlLayout = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
{{block "content" .}}{{end}}
<p style="color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee;">
This is an automated message. Please do not reply to this email.</p>
</div>
</body>
</html>`

func mustTemplate(subject, path, text, html string) *template {
	h := htmltemplate.Must(htmltemplate.New("layout").Parse(htmlLayout))
	htmltemplate.Must(h.New("content").Parse(html))
	return &template{
		subject: subject,
		path:    path,
		text:    texttemplate.Must(texttemplate.New("text").Parse(text)),
		html:    h,
	}
}

var templates = map[models.MessageKind]*template{
	models.MessageEmailVerification: mustTemplate(
		"Verify your email address",
		"/verify-email",
		`Verify your email address

Confirm the address for your mail administration account by opening this link:

{{.Link}}

The link expires at {{.ExpiresAt}}. If you did not create this account you can ignore this message.
`,
		`<h1>Verify your email address</h1>
<p>Confirm the address for your mail administration account:</p>
<p><a href="{{.Link}}">Verify email address</a></p>
<p>The link expires at {{.ExpiresAt}}. If you did not create this account you can ignore this message.</p>`,
	),
	models.MessagePasswordReset: mustTemplate(
		"Reset your password",
		"/reset-password",
		`Reset your password

Someone asked to reset the password for this account. Open this link to choose a new one:

{{.Link}}

The link expires at {{.ExpiresAt}}. If this was not you, no action is needed.
`,
		`<h1>Reset your password</h1>
<p>Someone asked to reset the password for this account.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>The link expires at {{.ExpiresAt}}. If this was not you, no action is needed.</p>`,
	),
	models.MessageSecurityAlert: mustTemplate(
		"Security alert for your account",
		"",
		`Security alert

We noticed a change on your account: {{.Alert}}.

If this was you, no action is needed. Otherwise reset your password and contact an administrator.
`,
		`<h1>Security alert</h1>
<p>We noticed a change on your account: <strong>{{.Alert}}</strong>.</p>
<p>If this was you, no action is needed. Otherwise reset your password and contact an administrator.</p>`,
	),
}

// render builds the subject and both bodies for kind.
func render(kind models.MessageKind, baseURL string, payload map[string]string) (*message, error) {
	tpl, ok := templates[kind]
	if !ok {
		return nil, fmt.Errorf("no template for message kind %q", kind)
	}

	data := templateData{
		ExpiresAt: payload[models.PayloadExpiresAt],
		Alert:     strings.ReplaceAll(payload[models.PayloadAlert], "_", " "),
	}
	if tpl.path != "" {
		token := payload[models.PayloadToken]
		if token == "" {
			return nil, fmt.Errorf("message kind %q requires a token", kind)
		}
		data.Link = strings.TrimRight(baseURL, "/") + tpl.path + "?token=" + url.QueryEscape(token)
	}

	var text, html bytes.Buffer
	if err := tpl.text.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("render text body: %w", err)
	}
	if err := tpl.html.ExecuteTemplate(&html, "layout", data); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}

	return &message{Subject: tpl.subject, Text: text.String(), HTML: html.String()}, nil
}
