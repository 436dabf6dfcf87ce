package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/opsforge/engine/internal/models"
	appErr "github.com/opsforge/engine/pkg/errors"
)

// Artifact filenames inside a deployment's working directory. The drift plan
// uses its own name so a drift check can never clobber a reviewed plan.
const (
	planArtifact  = "tfplan"
	driftArtifact = "drift.tfplan"
	stateFile     = "terraform.tfstate"
	mainFile      = "main.tf"
	varsFile      = "terraform.tfvars.json"
)

// workspacePath returns the deployment's durable working directory slot.
func (o *Orchestrator) workspacePath(dep *models.Deployment) string {
	if dep.WorkDir != "" {
		return dep.WorkDir
	}
	return filepath.Join(o.baseDir, dep.Name)
}

// materialize regenerates the deployment's configuration files from the
// template plus its variables. Regeneration is idempotent and never touches
// the tool's own state file or plan artifacts.
func (o *Orchestrator) materialize(dir string, tpl *models.Template, dep *models.Deployment) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "create working dir")
	}

	if err := os.WriteFile(filepath.Join(dir, mainFile), []byte(tpl.TerraformCode), 0o644); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "write terraform code")
	}

	vars := map[string]any{}
	var declared []models.TemplateVariable
	if len(tpl.Variables) > 0 {
		_ = json.Unmarshal(tpl.Variables, &declared)
	}
	for _, v := range declared {
		if v.Default != nil {
			vars[v.Name] = v.Default
		}
	}
	if len(dep.Variables) > 0 {
		var overrides map[string]any
		if err := json.Unmarshal(dep.Variables, &overrides); err != nil {
			return appErr.Wrap(err, appErr.CodeInvalid, "decode deployment variables")
		}
		for k, v := range overrides {
			vars[k] = v
		}
	}

	b, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "encode variables")
	}
	if err := os.WriteFile(filepath.Join(dir, varsFile), b, 0o644); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "write variables file")
	}
	return nil
}

// HasPlanArtifact reports whether a reviewed plan artifact is present in the
// deployment's working directory.
func (o *Orchestrator) HasPlanArtifact(dep *models.Deployment) bool {
	_, err := os.Stat(filepath.Join(o.workspacePath(dep), planArtifact))
	return err == nil
}

// HasState reports whether the tool has ever persisted state for the
// deployment. Absence is normal for never-applied deployments.
func (o *Orchestrator) HasState(dep *models.Deployment) bool {
	_, err := os.Stat(filepath.Join(o.workspacePath(dep), stateFile))
	return err == nil
}
