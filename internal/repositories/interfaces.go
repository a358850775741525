package repositories

import (
	"context"

	domain "github.com/orderable/products-api/internal/domain"
)

// HealthRepository probes the dependencies readiness depends on.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
