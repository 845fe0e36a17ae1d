package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/propnest/propnest-backend/internal/domain"
)

type templateData struct {
	Code         string
	ValidMinutes int
	Heading      string
	Intro        string
}

var (
	htmlTemplate = htmltemplate.Must(htmltemplate.New("otp.html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2933;">
  <h2>{{.Heading}}</h2>
  <p>{{.Intro}}</p>
  <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
  <p>This code expires in {{.ValidMinutes}} minutes. If you did not request it, you can ignore this email.</p>
  <p>The PropNest team</p>
</body>
</html>
`))

	textTemplate = texttemplate.Must(texttemplate.New("otp.txt").Parse(`{{.Heading}}

{{.Intro}}

    {{.Code}}

This code expires in {{.ValidMinutes}} minutes. If you did not request it, you can ignore this email.

The PropNest team
`))
)

type purposeCopy struct {
	subject string
	heading string
	intro   string
}

var copies = map[domain.Purpose]purposeCopy{
	domain.PurposeSignup: {
		subject: "Verify your PropNest email address",
		heading: "Confirm your email",
		intro:   "Use the code below to finish creating your PropNest account.",
	},
	domain.PurposeCredentialReset: {
		subject: "Your PropNest password reset code",
		heading: "Reset your password",
		intro:   "Use the code below to reset your PropNest password.",
	},
}

// RenderCode builds the email carrying a one-time code.
func RenderCode(to string, purpose domain.Purpose, code string, validFor time.Duration) (*Message, error) {
	c, ok := copies[purpose]
	if !ok {
		return nil, fmt.Errorf("no template for purpose %q", purpose)
	}

	data := templateData{
		Code:         code,
		ValidMinutes: int(validFor.Round(time.Minute) / time.Minute),
		Heading:      c.heading,
		Intro:        c.intro,
	}

	var html, text bytes.Buffer
	if err := htmlTemplate.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("failed to render html body: %w", err)
	}
	if err := textTemplate.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("failed to render text body: %w", err)
	}

	return &Message{
		To:      to,
		Subject: c.subject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
