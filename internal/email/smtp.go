package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// SMTPEmailService sends emails via SMTP.
//
// Works with Mailhog in development (no authentication) and any standard
// SMTP relay in production. Email templates are embedded at build time and
// rendered with html/template.
type SMTPEmailService struct {
	config    SMTPConfig
	baseURL   string
	templates *template.Template
	logger    *slog.Logger
}

// NewSMTPEmailService creates a new SMTP-based email service.
// baseURL is the application base URL used to construct links
// (e.g. "http://localhost:8080").
func NewSMTPEmailService(config SMTPConfig, baseURL string, logger *slog.Logger) (*SMTPEmailService, error) {
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	templates, err := template.New("email").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	return &SMTPEmailService{
		config:    config,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		templates: templates,
		logger:    logger,
	}, nil
}

// SendInvitationEmail sends a department invitation link.
func (s *SMTPEmailService) SendInvitationEmail(ctx context.Context, to, departmentName, inviterName, token string) error {
	acceptURL := fmt.Sprintf("%s/invitations/accept?token=%s", s.baseURL, token)

	data := map[string]interface{}{
		"DepartmentName": departmentName,
		"InviterName":    inviterName,
		"AcceptURL":      acceptURL,
		"Year":           time.Now().Year(),
	}

	htmlBody, err := s.renderTemplate("invitation.html", data)
	if err != nil {
		return fmt.Errorf("failed to render invitation email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hello,

%s has invited you to join the %s department on TitleScout. Click the link below to accept:

%s

This invitation expires in 7 days. If you weren't expecting it, you can safely ignore this email.

Thanks,
The TitleScout Team
`, inviterName, departmentName, acceptURL)

	email := Email{
		To:       to,
		Subject:  fmt.Sprintf("You've been invited to join %s on TitleScout", departmentName),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}

	return s.send(ctx, email)
}

// SendWelcomeEmail greets a user after their subscription activates.
func (s *SMTPEmailService) SendWelcomeEmail(ctx context.Context, to, name, tier string) error {
	data := map[string]interface{}{
		"Name": name,
		"Tier": tier,
		"URL":  s.baseURL,
		"Year": time.Now().Year(),
	}

	htmlBody, err := s.renderTemplate("welcome.html", data)
	if err != nil {
		return fmt.Errorf("failed to render welcome email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hi %s,

Your TitleScout %s subscription is now active. Head back to the app to start searching:

%s

Thanks,
The TitleScout Team
`, name, tier, s.baseURL)

	email := Email{
		To:       to,
		Subject:  "Welcome to TitleScout " + tier,
		HTMLBody: htmlBody,
		TextBody: textBody,
	}

	return s.send(ctx, email)
}

// send delivers one message over SMTP. Mailhog takes no credentials;
// production relays authenticate with PLAIN.
func (s *SMTPEmailService) send(ctx context.Context, email Email) error {
	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	if err := smtp.SendMail(addr, auth, s.config.From, []string{email.To}, s.buildMessage(email)); err != nil {
		s.logger.Error("failed to send email", "to", email.To, "subject", email.Subject, "error", err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent", "to", email.To, "subject", email.Subject)
	return nil
}

const mimeBoundary = "===============TITLESCOUT_BOUNDARY==============="

// buildMessage assembles a multipart/alternative message with a plain
// text part first, so clients that cannot render HTML fall back to it.
func (s *SMTPEmailService) buildMessage(email Email) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s <%s>\r\n", s.config.FromName, s.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", email.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", email.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mimeBoundary)

	writeMIMEPart(&buf, "text/plain", email.TextBody)
	writeMIMEPart(&buf, "text/html", email.HTMLBody)
	fmt.Fprintf(&buf, "--%s--\r\n", mimeBoundary)

	return buf.Bytes()
}

func writeMIMEPart(buf *bytes.Buffer, contentType, body string) {
	fmt.Fprintf(buf, "--%s\r\n", mimeBoundary)
	fmt.Fprintf(buf, "Content-Type: %s; charset=utf-8\r\n", contentType)
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	buf.WriteString(body)
	buf.WriteString("\r\n")
}

// renderTemplate renders an email template with the given data.
func (s *SMTPEmailService) renderTemplate(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Compile-time interface check
var _ EmailService = (*SMTPEmailService)(nil)
