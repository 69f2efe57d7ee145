package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/saunamo/configurator-api/internal/domain"
	repositories "github.com/saunamo/configurator-api/internal/repositories"
)

// BuildInfo is the metadata stamped into the binary and reported by the
// health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps lists the collaborators of the system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService wires the health reporting service.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utcClock := func() time.Time { return clock().UTC() }

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = utcClock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		clock:      utcClock,
		build:      build,
	}, nil
}

// Build returns the metadata stamped at startup.
func (s *systemService) Build() BuildInfo {
	return s.build
}

// Health collects dependency checks and normalises the report so handlers
// always see a timestamp, a check map and an overall status.
func (s *systemService) Health(ctx context.Context) (domain.SystemHealthReport, error) {
	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return domain.SystemHealthReport{}, err
	}

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = s.clock()
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if report.Status == "" {
		report.Status = domain.HealthStatusOK
	}
	return report, nil
}
