// Package notify sends analysis events to an n8n-style JSON webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"contractrag/types"
)

const (
	EventAnalysisComplete = "contract_analysis_complete"
	EventAnalysisError    = "contract_analysis_error"

	userAgent = "AI-Contract-Review/1.0"
)

type AnalysisSummary struct {
	RiskScore               int    `json:"risk_score"`
	Summary                 string `json:"summary"`
	RiskyClausesCount       int    `json:"risky_clauses_count"`
	MissingProtectionsCount int    `json:"missing_protections_count"`
	DocumentID              string `json:"document_id"`
}

type Event struct {
	Type             string           `json:"type"`
	RecipientEmail   string           `json:"recipient_email,omitempty"`
	ContractFilename string           `json:"contract_filename"`
	AnalysisSummary  *AnalysisSummary `json:"analysis_summary,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	DashboardURL     string           `json:"dashboard_url,omitempty"`
	SupportURL       string           `json:"support_url,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

func AnalysisComplete(baseURL, email, filename string, r *types.AnalysisResult) Event {
	return Event{
		Type:             EventAnalysisComplete,
		RecipientEmail:   email,
		ContractFilename: filename,
		AnalysisSummary: &AnalysisSummary{
			RiskScore:               r.RiskScore,
			Summary:                 r.Summary,
			RiskyClausesCount:       len(r.RiskyClauses),
			MissingProtectionsCount: len(r.MissingProtections),
			DocumentID:              r.DocumentID,
		},
		DashboardURL: strings.TrimRight(baseURL, "/") + "/api/v1/analyses/" + r.DocumentID,
		Timestamp:    time.Now().UTC(),
	}
}

func AnalysisError(baseURL, email, filename, message string) Event {
	return Event{
		Type:             EventAnalysisError,
		RecipientEmail:   email,
		ContractFilename: filename,
		ErrorMessage:     message,
		SupportURL:       strings.TrimRight(baseURL, "/") + "/support",
		Timestamp:        time.Now().UTC(),
	}
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Noop drops every event. Used when no webhook is configured.
type Noop struct{}

func (Noop) Notify(context.Context, Event) error { return nil }

type Webhook struct {
	url     string
	timeout time.Duration
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: url, timeout: timeout}
}

// New returns a Webhook for a non-empty url and Noop otherwise.
func New(url string, timeout time.Duration) Notifier {
	if url == "" {
		return Noop{}
	}
	return NewWebhook(url, timeout)
}

func (w *Webhook) Notify(ctx context.Context, e Event) error {
	timeout := w.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: webhook: %w", types.ErrPersistence, context.DeadlineExceeded)
	}

	agent := fiber.Post(w.url)
	agent.Set(fiber.HeaderUserAgent, userAgent)
	agent.JSON(e)
	agent.Timeout(timeout)
	if err := agent.Parse(); err != nil {
		return fmt.Errorf("%w: webhook: %v", types.ErrPersistence, err)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%w: webhook: %v", types.ErrPersistence, errors.Join(errs...))
	}
	switch code {
	case fiber.StatusOK, fiber.StatusCreated, fiber.StatusAccepted:
		return nil
	}
	return fmt.Errorf("%w: webhook status %d: %s", types.ErrPersistence, code, body)
}

// Dispatch sends e in the background. Failures are logged and never returned.
func Dispatch(n Notifier, e Event, timeout time.Duration, logger *slog.Logger) {
	if n == nil {
		return
	}
	if _, noop := n.(Noop); noop {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := n.Notify(ctx, e); err != nil {
			logger.Warn("notification failed", "type", e.Type, "file", e.ContractFilename, "error", err)
			return
		}
		logger.Info("notification sent", "type", e.Type, "file", e.ContractFilename)
	}()
}
