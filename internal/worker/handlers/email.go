package handlers

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/job"
	"github.com/rs/zerolog/log"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Sender delivers a message. *sendgrid.Client satisfies it.
type Sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

type AlertConfig struct {
	FromName    string
	FromAddress string
	Recipients  []string
}

type EmissionAlertHandler struct {
	sender Sender
	cfg    AlertConfig
}

func NewEmissionAlertHandler(sender Sender, cfg AlertConfig) *EmissionAlertHandler {
	return &EmissionAlertHandler{sender: sender, cfg: cfg}
}

// NewSendGridAlertHandler sends alerts through the SendGrid API.
func NewSendGridAlertHandler(apiKey string, cfg AlertConfig) *EmissionAlertHandler {
	return NewEmissionAlertHandler(sendgrid.NewSendClient(apiKey), cfg)
}

type alertPayload struct {
	projectID    string
	projectName  string
	previousTier string
	currentTier  string
	total        float64
}

func parseAlertPayload(payload map[string]any) (alertPayload, error) {
	var p alertPayload
	var ok bool

	if p.projectID, ok = payload["project_id"].(string); !ok || p.projectID == "" {
		return p, errors.New("missing 'project_id' field")
	}
	if p.currentTier, ok = payload["current_tier"].(string); !ok || p.currentTier == "" {
		return p, errors.New("missing 'current_tier' field")
	}
	if p.total, ok = payload["total_co2"].(float64); !ok {
		return p, errors.New("missing 'total_co2' field")
	}
	p.projectName, _ = payload["project_name"].(string)
	p.previousTier, _ = payload["previous_tier"].(string)
	if p.projectName == "" {
		p.projectName = p.projectID
	}

	return p, nil
}

// Handle mails every configured recipient that a project crossed into a
// higher emission tier. With no recipients configured the alert is only logged.
func (h *EmissionAlertHandler) Handle(ctx context.Context, j *job.Job) error {
	p, err := parseAlertPayload(j.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	logger := log.With().Str("job_id", j.ID).Str("project_id", p.projectID).Logger()
	if len(h.cfg.Recipients) == 0 {
		logger.Warn().Str("tier", p.currentTier).Msg("emission alert has no recipients")
		return nil
	}

	subject := fmt.Sprintf("EcoTask: %s reached %s emissions", p.projectName, p.currentTier)
	text, htmlBody := alertBody(p)

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(h.cfg.FromName, h.cfg.FromAddress))
	message.Subject = subject
	personalization := mail.NewPersonalization()
	for _, addr := range h.cfg.Recipients {
		personalization.AddTos(mail.NewEmail("", addr))
	}
	message.AddPersonalizations(personalization)
	message.AddContent(mail.NewContent("text/plain", text), mail.NewContent("text/html", htmlBody))

	if err := ctx.Err(); err != nil {
		return err
	}

	response, err := h.sender.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	logger.Info().Int("recipients", len(h.cfg.Recipients)).Int("status", response.StatusCode).Msg("emission alert sent")
	return nil
}

func alertBody(p alertPayload) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Project %s now accounts for %s.\n", p.projectName, co2.Humanize(p.total))
	if p.previousTier != "" {
		fmt.Fprintf(&b, "Emission tier changed from %s to %s.\n", p.previousTier, p.currentTier)
	} else {
		fmt.Fprintf(&b, "Emission tier is now %s.\n", p.currentTier)
	}
	text := b.String()

	htmlBody := "<p>" + strings.ReplaceAll(html.EscapeString(strings.TrimSpace(text)), "\n", "<br>") + "</p>"

	return text, htmlBody
}
