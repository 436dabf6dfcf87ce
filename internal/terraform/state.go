package terraform

import (
	"encoding/json"

	tfjson "github.com/hashicorp/terraform-json"
	appErr "github.com/opsforge/engine/pkg/errors"
)

// StateResource is one provisioned resource from a terraform state document.
type StateResource struct {
	Address      string         `json:"address"`
	ResourceType string         `json:"resource_type"`
	ResourceName string         `json:"resource_name"`
	Provider     string         `json:"provider"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// StateDoc is the typed result of parsing `terraform show -json` output.
type StateDoc struct {
	TerraformVersion string          `json:"terraform_version"`
	Resources        []StateResource `json:"resources"`
	Outputs          map[string]any  `json:"outputs,omitempty"`
}

// ParseState decodes a terraform state document. A state with no values
// section parses to an empty resource list, not an error.
func ParseState(data []byte) (*StateDoc, error) {
	var state tfjson.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "parse state document failed")
	}

	doc := &StateDoc{TerraformVersion: state.TerraformVersion}
	if state.Values == nil {
		return doc, nil
	}
	if len(state.Values.Outputs) > 0 {
		doc.Outputs = make(map[string]any, len(state.Values.Outputs))
		for name, out := range state.Values.Outputs {
			if out != nil {
				doc.Outputs[name] = out.Value
			}
		}
	}
	collectModule(doc, state.Values.RootModule)
	return doc, nil
}

func collectModule(doc *StateDoc, mod *tfjson.StateModule) {
	if mod == nil {
		return
	}
	for _, res := range mod.Resources {
		if res == nil {
			continue
		}
		doc.Resources = append(doc.Resources, StateResource{
			Address:      res.Address,
			ResourceType: res.Type,
			ResourceName: res.Name,
			Provider:     res.ProviderName,
			Attributes:   res.AttributeValues,
		})
	}
	for _, child := range mod.ChildModules {
		collectModule(doc, child)
	}
}
