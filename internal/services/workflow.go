package services

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed templates/*.json
var templatesFS embed.FS

// NodeRef addresses one input slot of one workflow node.
type NodeRef struct {
	ID    string `json:"id"`
	Input string `json:"input"`
}

// nodeRefs accepts either a single ref or an array of refs; templates use
// arrays when one logical value fans out to several nodes.
type nodeRefs []NodeRef

func (refs *nodeRefs) UnmarshalJSON(data []byte) error {
	var single NodeRef
	if err := json.Unmarshal(data, &single); err == nil && single.ID != "" {
		*refs = nodeRefs{single}
		return nil
	}
	var many []NodeRef
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*refs = many
	return nil
}

// NodeMap maps logical parameter names onto workflow node inputs.
type NodeMap map[string]nodeRefs

func loadWorkflow(name string) (map[string]any, error) {
	raw, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("workflow template %s: %w", name, err)
	}
	var workflow map[string]any
	if err := json.Unmarshal(raw, &workflow); err != nil {
		return nil, fmt.Errorf("workflow template %s: %w", name, err)
	}
	if len(workflow) == 0 {
		return nil, fmt.Errorf("workflow template %s is empty", name)
	}
	return workflow, nil
}

func loadNodeMap(name string) (NodeMap, error) {
	raw, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("node map %s: %w", name, err)
	}
	var nodeMap NodeMap
	if err := json.Unmarshal(raw, &nodeMap); err != nil {
		return nil, fmt.Errorf("node map %s: %w", name, err)
	}
	return nodeMap, nil
}

// ApplyNodeMap writes values into the workflow through the node map. A map
// entry pointing at a node the workflow does not have is an error; silently
// dropping a parameter would dispatch a job the user did not ask for.
func ApplyNodeMap(workflow map[string]any, nodeMap NodeMap, values map[string]any) error {
	for key, value := range values {
		refs, ok := nodeMap[key]
		if !ok {
			continue
		}
		for _, ref := range refs {
			node, ok := workflow[ref.ID].(map[string]any)
			if !ok {
				return fmt.Errorf("node %s not found in workflow", ref.ID)
			}
			inputs, ok := node["inputs"].(map[string]any)
			if !ok {
				return fmt.Errorf("node %s has no inputs", ref.ID)
			}
			inputs[ref.Input] = value
		}
	}
	return nil
}

// BuildImageWorkflow instantiates the image template with validated
// parameters.
func BuildImageWorkflow(params *ImageParams) (map[string]any, error) {
	workflow, err := loadWorkflow("anima-workflow.json")
	if err != nil {
		return nil, err
	}
	nodeMap, err := loadNodeMap("anima-node-map.json")
	if err != nil {
		return nil, err
	}
	err = ApplyNodeMap(workflow, nodeMap, map[string]any{
		"prompt":          params.Prompt,
		"negative_prompt": params.NegativePrompt,
		"seed":            params.Seed,
		"steps":           params.Steps,
		"cfg":             params.CFG,
		"width":           params.Width,
		"height":          params.Height,
	})
	if err != nil {
		return nil, err
	}
	return workflow, nil
}

// BuildVideoWorkflow instantiates the i2v or t2v template with validated
// parameters.
func BuildVideoWorkflow(params *VideoParams) (map[string]any, error) {
	suffix := "i2v"
	if params.Mode == VIDEO_MODE_T2V {
		suffix = "t2v"
	}
	workflow, err := loadWorkflow("wan-workflow-" + suffix + ".json")
	if err != nil {
		return nil, err
	}
	nodeMap, err := loadNodeMap("wan-node-map-" + suffix + ".json")
	if err != nil {
		return nil, err
	}
	values := map[string]any{
		"prompt":          params.Prompt,
		"negative_prompt": params.NegativePrompt,
		"seed":            params.Seed,
		"steps":           params.Steps,
		"cfg":             params.CFG,
		"width":           params.Width,
		"height":          params.Height,
		"num_frames":      params.Frames,
		"fps":             params.FPS,
		"start_step":      params.SplitStep,
		"end_step":        params.Steps,
	}
	if params.Mode == VIDEO_MODE_I2V {
		values["image"] = params.ImageBase64
	}
	if err := ApplyNodeMap(workflow, nodeMap, values); err != nil {
		return nil, err
	}
	return workflow, nil
}
