package sheets

import (
	"context"

	"accountant/internal/report"
)

// Ports for outbound adapters.
type (
	// ReportPublisher mirrors a finished day outside the chat.
	ReportPublisher interface {
		PublishDaily(ctx context.Context, rep report.DailyReport) error
	}
)
