package services

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/internal/repository"
	appErr "github.com/opsforge/engine/pkg/errors"
	"github.com/opsforge/engine/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// DeploymentService manages deployment records. Operations against a
// deployment go through OperationService.
type DeploymentService interface {
	CreateDeployment(ctx context.Context, input *CreateDeploymentInput) (*models.Deployment, error)
	GetDeployment(ctx context.Context, name string) (*models.Deployment, error)
	ListDeployments(ctx context.Context) ([]models.Deployment, error)
}

type CreateDeploymentInput struct {
	Name        string         `json:"name" validate:"required,max=128"`
	Template    string         `json:"template" validate:"required"`
	Environment string         `json:"environment"`
	Variables   map[string]any `json:"variables"`
}

type deploymentService struct {
	deployments repository.DeploymentRepository
	templates   repository.TemplateRepository
	validate    *validator.Validate
}

func NewDeploymentService(deployments repository.DeploymentRepository, templates repository.TemplateRepository) DeploymentService {
	return &deploymentService{
		deployments: deployments,
		templates:   templates,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

var _ DeploymentService = (*deploymentService)(nil)

func (s *deploymentService) CreateDeployment(ctx context.Context, input *CreateDeploymentInput) (*models.Deployment, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid deployment input")
	}

	var tpl models.Template
	if err := s.templates.GetByName(ctx, input.Template, &tpl); err != nil {
		return nil, err
	}

	var existing models.Deployment
	if err := s.deployments.GetByName(ctx, input.Name, &existing); err == nil {
		return nil, appErr.New(appErr.CodeConflict, "deployment name already in use")
	}

	d := &models.Deployment{
		Name:        input.Name,
		TemplateID:  tpl.ID,
		Environment: input.Environment,
		Status:      models.DeploymentPending,
	}
	if input.Variables != nil {
		b, err := json.Marshal(input.Variables)
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInvalid, "encode variables failed")
		}
		d.Variables = datatypes.JSON(b)
	}

	if err := s.deployments.Create(ctx, d); err != nil {
		return nil, err
	}
	logger.L().Info("deployment created", zap.String("deployment", d.Name), zap.String("template", tpl.Name))
	return d, nil
}

func (s *deploymentService) GetDeployment(ctx context.Context, name string) (*models.Deployment, error) {
	var d models.Deployment
	if err := s.deployments.GetByName(ctx, name, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *deploymentService) ListDeployments(ctx context.Context) ([]models.Deployment, error) {
	return s.deployments.List(ctx)
}
