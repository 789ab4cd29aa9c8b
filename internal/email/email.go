// Package email provides transactional email delivery for TitleScout.
//
// The EmailService interface is implemented over SMTP, which covers both
// development (Mailhog, no auth) and production (any authenticated SMTP
// relay). Delivery always happens from background jobs, never on a request
// path.
package email

import (
	"context"
)

// EmailService defines the interface for sending transactional emails.
//
// All methods are context-aware for timeout and cancellation support.
type EmailService interface {
	// SendInvitationEmail sends a department invitation link.
	// token is the raw invitation token; it appears only in this email and
	// in the recipient's accept request.
	SendInvitationEmail(ctx context.Context, to, departmentName, inviterName, token string) error

	// SendWelcomeEmail greets a user after their subscription activates.
	SendWelcomeEmail(ctx context.Context, to, name, tier string) error
}

// Email represents a single email message.
type Email struct {
	To       string // Recipient email address
	Subject  string // Email subject line
	HTMLBody string // HTML content of the email
	TextBody string // Plain text fallback content
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
}

// Default sender identity used when SMTPConfig leaves From empty.
const (
	DefaultFromEmail = "noreply@titlescout.app"
	DefaultFromName  = "TitleScout"
)
