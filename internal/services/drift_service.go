package services

import (
	"context"

	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/internal/repository"
)

// DriftService reads recorded drift results. Running a new check goes
// through OperationService.RequestDrift.
type DriftService interface {
	LatestDrift(ctx context.Context, deployment string) (*models.DriftResult, error)
	ListDrift(ctx context.Context, deployment string) ([]models.DriftResult, error)
}

type driftService struct {
	deployments repository.DeploymentRepository
	drifts      repository.DriftRepository
}

func NewDriftService(deployments repository.DeploymentRepository, drifts repository.DriftRepository) DriftService {
	return &driftService{deployments: deployments, drifts: drifts}
}

var _ DriftService = (*driftService)(nil)

func (s *driftService) LatestDrift(ctx context.Context, deployment string) (*models.DriftResult, error) {
	var dep models.Deployment
	if err := s.deployments.GetByName(ctx, deployment, &dep); err != nil {
		return nil, err
	}
	var result models.DriftResult
	if err := s.drifts.LatestByDeployment(ctx, dep.ID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *driftService) ListDrift(ctx context.Context, deployment string) ([]models.DriftResult, error) {
	var dep models.Deployment
	if err := s.deployments.GetByName(ctx, deployment, &dep); err != nil {
		return nil, err
	}
	return s.drifts.ListByDeployment(ctx, dep.ID)
}
