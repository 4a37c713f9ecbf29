package userauth

import (
	"context"
	"log/slog"
)

// Mailer lets the host deliver verification and reset links
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to string, verificationLink string) error
	SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error
}

// LogMailer is a development Mailer that writes messages to a logger
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

func (m *LogMailer) SendVerificationEmail(ctx context.Context, to string, verificationLink string) error {
	m.logger().InfoContext(ctx, "email: verify your email address", "to", to, "link", verificationLink)
	return nil
}

func (m *LogMailer) SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error {
	m.logger().InfoContext(ctx, "email: reset your password", "to", to, "link", resetLink)
	return nil
}

func verificationLink(baseURL, token string) string {
	return baseURL + "/users/validate-email/" + token
}

func resetLink(baseURL, token string) string {
	return baseURL + "/users/reset-password/" + token
}
