// Package email provides the email client for sending transactional emails.
package email

import (
	"fmt"
	"os"

	"github.com/resendlabs/resend-go"
)

// Service defines the interface for sending emails, allowing for mock
// implementations in tests.
type Service interface {
	SendMerchantActivationEmail(toEmail, merchantKey, activationURL string) error
}

// ResendClient is the concrete implementation of the email Service using the
// Resend API.
type ResendClient struct {
	client    *resend.Client
	fromEmail string
	fromName  string
}

// NewService creates a new email service client, returning the Service interface.
func NewService() (Service, error) {
	apiKey := os.Getenv("RESEND_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY environment variable is required")
	}

	fromEmail := os.Getenv("MERCHANT_EMAIL_FROM")
	if fromEmail == "" {
		fromEmail = "noreply@fashionmirror.shop"
	}

	fromName := os.Getenv("MERCHANT_EMAIL_FROM_NAME")
	if fromName == "" {
		fromName = "FashionMirror"
	}

	return &ResendClient{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}, nil
}

// SendMerchantActivationEmail composes and sends the merchant activation email.
func (c *ResendClient) SendMerchantActivationEmail(toEmail, merchantKey, activationURL string) error {
	subject := "Activate your FashionMirror merchant account"

	htmlContent := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a1a;">
  <h2>Welcome to FashionMirror</h2>
  <p>Your merchant key is <code>%s</code>.</p>
  <p>Activate your account within 48 hours to start embedding the try-on widget:</p>
  <p><a href="%s" style="display:inline-block;padding:10px 18px;background:#111;color:#fff;text-decoration:none;border-radius:6px;">Activate account</a></p>
  <p>If you did not request this, you can ignore this email.</p>
</body>
</html>`, merchantKey, activationURL)

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", c.fromName, c.fromEmail),
		To:      []string{toEmail},
		Subject: subject,
		Html:    htmlContent,
	}

	_, err := c.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send activation email via Resend: %w", err)
	}

	return nil
}
