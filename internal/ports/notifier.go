package ports

import (
	"context"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// Reporter presenta el resultado de cada run del pipeline.
type Reporter interface {
	ReportRun(ctx context.Context, report domain.RunReport) error
}
