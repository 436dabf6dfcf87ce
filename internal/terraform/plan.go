package terraform

import (
	"encoding/json"

	tfjson "github.com/hashicorp/terraform-json"
	appErr "github.com/opsforge/engine/pkg/errors"
)

// ResourceChange is one planned change from a terraform plan document.
// Actions preserves the plan's ordered action list; [no-op] means the
// resource matches declared state.
type ResourceChange struct {
	Address      string   `json:"address"`
	ResourceType string   `json:"resource_type"`
	ResourceName string   `json:"resource_name"`
	Provider     string   `json:"provider"`
	Actions      []string `json:"actions"`
	Before       any      `json:"before,omitempty"`
	After        any      `json:"after,omitempty"`
}

// NoOp reports whether the change's action list is exactly [no-op].
func (c ResourceChange) NoOp() bool {
	return len(c.Actions) == 1 && c.Actions[0] == string(tfjson.ActionNoop)
}

// PlanDoc is the typed result of parsing a terraform plan document.
type PlanDoc struct {
	TerraformVersion string           `json:"terraform_version"`
	Changes          []ResourceChange `json:"changes"`
}

// ParsePlan decodes the JSON emitted by `terraform show -json <planfile>`
// into a typed change list.
func ParsePlan(data []byte) (*PlanDoc, error) {
	var plan tfjson.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "parse plan document failed")
	}

	doc := &PlanDoc{TerraformVersion: plan.TerraformVersion}
	for _, rc := range plan.ResourceChanges {
		if rc == nil || rc.Change == nil {
			continue
		}
		change := ResourceChange{
			Address:      rc.Address,
			ResourceType: rc.Type,
			ResourceName: rc.Name,
			Provider:     rc.ProviderName,
			Before:       rc.Change.Before,
			After:        rc.Change.After,
		}
		for _, a := range rc.Change.Actions {
			change.Actions = append(change.Actions, string(a))
		}
		doc.Changes = append(doc.Changes, change)
	}
	return doc, nil
}

// DriftSummary aggregates drifted changes by action kind.
type DriftSummary struct {
	DriftedResources int `json:"drifted_resources"`
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	Deleted          int `json:"deleted"`
	Replaced         int `json:"replaced"`
}

// ClassifyDrift filters the plan's changes down to drifted resources (action
// list not exactly [no-op]) and aggregates counts per action kind. Zero
// drifted resources is a valid, clean outcome.
func ClassifyDrift(changes []ResourceChange) ([]ResourceChange, DriftSummary) {
	var drifted []ResourceChange
	var sum DriftSummary
	for _, c := range changes {
		if c.NoOp() {
			continue
		}
		drifted = append(drifted, c)
		sum.DriftedResources++

		actions := tfjson.Actions{}
		for _, a := range c.Actions {
			actions = append(actions, tfjson.Action(a))
		}
		switch {
		case actions.Replace():
			sum.Replaced++
		case actions.Create():
			sum.Created++
		case actions.Update():
			sum.Updated++
		case actions.Delete():
			sum.Deleted++
		}
	}
	return drifted, sum
}
