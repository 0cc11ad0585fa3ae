package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeRefsUnmarshalSingleAndArray(t *testing.T) {
	var nodeMap NodeMap
	raw := `{
		"prompt": {"id": "6", "input": "text"},
		"seed": [{"id": "57", "input": "noise_seed"}, {"id": "58", "input": "noise_seed"}]
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &nodeMap))

	require.Len(t, nodeMap["prompt"], 1)
	assert.Equal(t, NodeRef{ID: "6", Input: "text"}, nodeMap["prompt"][0])
	require.Len(t, nodeMap["seed"], 2)
	assert.Equal(t, "58", nodeMap["seed"][1].ID)
}

func TestApplyNodeMap(t *testing.T) {
	workflow := map[string]any{
		"6": map[string]any{"inputs": map[string]any{"text": ""}},
		"3": map[string]any{"inputs": map[string]any{"seed": 0}},
	}
	nodeMap := NodeMap{
		"prompt": nodeRefs{{ID: "6", Input: "text"}},
		"seed":   nodeRefs{{ID: "3", Input: "seed"}},
	}

	err := ApplyNodeMap(workflow, nodeMap, map[string]any{"prompt": "a cat", "seed": int64(7)})
	require.NoError(t, err)

	inputs := workflow["6"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, "a cat", inputs["text"])

	// values with no mapping are ignored, missing nodes are not
	require.NoError(t, ApplyNodeMap(workflow, nodeMap, map[string]any{"unmapped": 1}))
	nodeMap["prompt"] = nodeRefs{{ID: "99", Input: "text"}}
	err = ApplyNodeMap(workflow, nodeMap, map[string]any{"prompt": "x"})
	assert.ErrorContains(t, err, "node 99 not found")
}

func TestBuildImageWorkflow(t *testing.T) {
	params := &ImageParams{
		Prompt:         "a lighthouse at dusk",
		NegativePrompt: "blurry",
		Width:          512,
		Height:         768,
		Steps:          20,
		CFG:            4.5,
		Seed:           123,
	}

	workflow, err := BuildImageWorkflow(params)
	require.NoError(t, err)

	sampler := workflow["3"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, int64(123), sampler["seed"])
	assert.Equal(t, 20, sampler["steps"])
	assert.Equal(t, 4.5, sampler["cfg"])

	latent := workflow["5"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, 512, latent["width"])
	assert.Equal(t, 768, latent["height"])

	positive := workflow["6"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, "a lighthouse at dusk", positive["text"])
	negative := workflow["7"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, "blurry", negative["text"])
}

func TestBuildVideoWorkflowI2V(t *testing.T) {
	params := &VideoParams{
		Mode:        VIDEO_MODE_I2V,
		Prompt:      "gentle waves",
		ImageBase64: "aGVsbG8=",
		Width:       768,
		Height:      448,
		Seconds:     8,
		Seed:        9,
		Steps:       VIDEO_FIXED_STEPS,
		SplitStep:   2,
		CFG:         VIDEO_FIXED_CFG,
		FPS:         VIDEO_FIXED_FPS,
		Frames:      64,
	}

	workflow, err := BuildVideoWorkflow(params)
	require.NoError(t, err)

	loader := workflow["52"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, "aGVsbG8=", loader["image"])

	i2v := workflow["50"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, 64, i2v["length"])

	// seed fans out to both sampler stages
	high := workflow["57"].(map[string]any)["inputs"].(map[string]any)
	low := workflow["58"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, int64(9), high["noise_seed"])
	assert.Equal(t, int64(9), low["noise_seed"])
	assert.Equal(t, 2, high["end_at_step"])
	assert.Equal(t, 2, low["start_at_step"])
	assert.Equal(t, VIDEO_FIXED_STEPS, low["end_at_step"])
}

func TestBuildVideoWorkflowT2VHasNoImageNode(t *testing.T) {
	params := &VideoParams{
		Mode:      VIDEO_MODE_T2V,
		Prompt:    "city timelapse",
		Width:     768,
		Height:    448,
		Seconds:   5,
		Steps:     VIDEO_FIXED_STEPS,
		SplitStep: 2,
		CFG:       VIDEO_FIXED_CFG,
		FPS:       VIDEO_FIXED_FPS,
		Frames:    40,
	}

	workflow, err := BuildVideoWorkflow(params)
	require.NoError(t, err)
	_, hasLoader := workflow["52"]
	assert.False(t, hasLoader)

	latent := workflow["50"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, 40, latent["length"])
}
