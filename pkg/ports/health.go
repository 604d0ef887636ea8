package ports

import (
	"context"

	"github.com/aescanero/taskcore/pkg/domain"
)

// HealthChecker performs out-of-process liveness checks
type HealthChecker interface {
	Check(ctx context.Context) []domain.DependencyStatus
}
