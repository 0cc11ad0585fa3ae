package services

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"animaforge/internal/models"

	"github.com/hiendaovinh/toolkit/pkg/errorx"
)

const (
	IMAGE_MAX_PROMPT_LENGTH = 400
	IMAGE_MIN_DIMENSION     = 256
	IMAGE_MAX_DIMENSION     = 2048
	IMAGE_MIN_CFG           = 0
	IMAGE_MAX_CFG           = 10
	IMAGE_MIN_STEPS         = 1
	IMAGE_MAX_STEPS         = 60
	IMAGE_DEFAULT_STEPS     = 30
	IMAGE_DEFAULT_CFG       = 4
	IMAGE_DEFAULT_DIMENSION = 1024

	VIDEO_MODE_I2V = "i2v"
	VIDEO_MODE_T2V = "t2v"

	VIDEO_MAX_PROMPT_LENGTH = 500
	VIDEO_MIN_DIMENSION     = 256
	VIDEO_MAX_DIMENSION     = 3000
	VIDEO_SIZE_MULTIPLE     = 64
	VIDEO_MAX_LONG_SIDE     = 768
	VIDEO_DEFAULT_WIDTH     = 768
	VIDEO_DEFAULT_HEIGHT    = 448
	VIDEO_FIXED_STEPS       = 4
	VIDEO_FIXED_CFG         = 1
	VIDEO_FIXED_FPS         = 8

	MAX_IMAGE_BYTES = 10 * 1024 * 1024

	SEED_RANGE = 2147483647
)

// ImageParams is a validated, defaulted image job.
type ImageParams struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	CFG            float64
	Seed           int64
}

// VideoParams is a validated, defaulted video job. Steps, CFG and FPS are
// fixed by the pipeline; Seconds drives Frames and the ticket cost.
type VideoParams struct {
	Mode           string
	Prompt         string
	NegativePrompt string
	ImageBase64    string
	ImageName      string
	Width          int
	Height         int
	Seconds        int
	Seed           int64
	Steps          int
	SplitStep      int
	CFG            float64
	FPS            int
	Frames         int
}

func invalid(format string, args ...any) error {
	return errorx.Wrap(fmt.Errorf(format, args...), errorx.Validation)
}

func resolveSeed(randomize bool, seed int64) int64 {
	if randomize {
		return rand.Int63n(SEED_RANGE)
	}
	if seed < 0 {
		return 0
	}
	return seed
}

// ValidateImageRequest applies defaults and bounds checks to an image job
// request.
func ValidateImageRequest(req *models.ImageJobRequest) (*ImageParams, error) {
	if req == nil {
		return nil, invalid("missing request body")
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, invalid("prompt is required")
	}
	if len([]rune(prompt)) > IMAGE_MAX_PROMPT_LENGTH {
		return nil, invalid("prompt must be at most %d characters", IMAGE_MAX_PROMPT_LENGTH)
	}
	if len([]rune(req.NegativePrompt)) > IMAGE_MAX_PROMPT_LENGTH {
		return nil, invalid("negative prompt must be at most %d characters", IMAGE_MAX_PROMPT_LENGTH)
	}

	params := &ImageParams{
		Prompt:         prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		CFG:            IMAGE_DEFAULT_CFG,
		Seed:           resolveSeed(req.RandomizeSeed, req.Seed),
	}
	if req.CFG != nil {
		params.CFG = *req.CFG
	}
	if params.Width == 0 {
		params.Width = IMAGE_DEFAULT_DIMENSION
	}
	if params.Height == 0 {
		params.Height = IMAGE_DEFAULT_DIMENSION
	}
	if params.Steps == 0 {
		params.Steps = IMAGE_DEFAULT_STEPS
	}

	if params.Width < IMAGE_MIN_DIMENSION || params.Width > IMAGE_MAX_DIMENSION {
		return nil, invalid("width must be between %d and %d", IMAGE_MIN_DIMENSION, IMAGE_MAX_DIMENSION)
	}
	if params.Height < IMAGE_MIN_DIMENSION || params.Height > IMAGE_MAX_DIMENSION {
		return nil, invalid("height must be between %d and %d", IMAGE_MIN_DIMENSION, IMAGE_MAX_DIMENSION)
	}
	if params.CFG < IMAGE_MIN_CFG || params.CFG > IMAGE_MAX_CFG {
		return nil, invalid("cfg must be between %d and %d", IMAGE_MIN_CFG, IMAGE_MAX_CFG)
	}
	if params.Steps < IMAGE_MIN_STEPS || params.Steps > IMAGE_MAX_STEPS {
		return nil, invalid("steps must be between %d and %d", IMAGE_MIN_STEPS, IMAGE_MAX_STEPS)
	}

	return params, nil
}

// ValidateVideoRequest applies defaults, bounds checks and dimension
// snapping to a video job request.
func ValidateVideoRequest(req *models.VideoJobRequest) (*VideoParams, error) {
	if req == nil {
		return nil, invalid("missing request body")
	}

	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = VIDEO_MODE_I2V
	}
	if mode != VIDEO_MODE_I2V && mode != VIDEO_MODE_T2V {
		return nil, invalid("mode must be %q or %q", VIDEO_MODE_I2V, VIDEO_MODE_T2V)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if len([]rune(prompt)) > VIDEO_MAX_PROMPT_LENGTH {
		return nil, invalid("prompt must be at most %d characters", VIDEO_MAX_PROMPT_LENGTH)
	}
	if len([]rune(req.NegativePrompt)) > VIDEO_MAX_PROMPT_LENGTH {
		return nil, invalid("negative prompt must be at most %d characters", VIDEO_MAX_PROMPT_LENGTH)
	}

	var imageBase64 string
	if mode == VIDEO_MODE_I2V {
		var err error
		imageBase64, err = ensureBase64Image(req.ImageBase64)
		if err != nil {
			return nil, err
		}
	}

	width := req.Width
	height := req.Height
	if width == 0 {
		width = VIDEO_DEFAULT_WIDTH
	}
	if height == 0 {
		height = VIDEO_DEFAULT_HEIGHT
	}
	if width < VIDEO_MIN_DIMENSION || width > VIDEO_MAX_DIMENSION {
		return nil, invalid("width must be between %d and %d", VIDEO_MIN_DIMENSION, VIDEO_MAX_DIMENSION)
	}
	if height < VIDEO_MIN_DIMENSION || height > VIDEO_MAX_DIMENSION {
		return nil, invalid("height must be between %d and %d", VIDEO_MIN_DIMENSION, VIDEO_MAX_DIMENSION)
	}
	width, height = ToSafeDimensions(width, height, VIDEO_MAX_LONG_SIDE)

	seconds := NormalizeSeconds(req.Seconds)
	steps := VIDEO_FIXED_STEPS
	splitStep := steps / 2
	if splitStep < 1 {
		splitStep = 1
	}

	imageName := strings.TrimSpace(req.ImageName)
	if imageName == "" {
		imageName = "input.png"
	}

	return &VideoParams{
		Mode:           mode,
		Prompt:         prompt,
		NegativePrompt: req.NegativePrompt,
		ImageBase64:    imageBase64,
		ImageName:      imageName,
		Width:          width,
		Height:         height,
		Seconds:        seconds,
		Seed:           resolveSeed(req.RandomizeSeed, req.Seed),
		Steps:          steps,
		SplitStep:      splitStep,
		CFG:            VIDEO_FIXED_CFG,
		FPS:            VIDEO_FIXED_FPS,
		Frames:         VIDEO_FIXED_FPS * seconds,
	}, nil
}

// ToSafeDimensions scales the longer side down to maxLongSide and snaps both
// sides onto the pipeline's size multiple.
func ToSafeDimensions(width int, height int, maxLongSide int) (int, int) {
	longest := width
	if height > longest {
		longest = height
	}
	scale := 1.0
	if longest > maxLongSide {
		scale = float64(maxLongSide) / float64(longest)
	}
	return snapDimension(float64(width)*scale, maxLongSide), snapDimension(float64(height)*scale, maxLongSide)
}

func snapDimension(value float64, maxLongSide int) int {
	rounded := int(math.Round(value/VIDEO_SIZE_MULTIPLE)) * VIDEO_SIZE_MULTIPLE
	if rounded < VIDEO_MIN_DIMENSION {
		return VIDEO_MIN_DIMENSION
	}
	if rounded > maxLongSide {
		return maxLongSide
	}
	return rounded
}

func ensureBase64Image(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", invalid("image is required for i2v")
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return "", invalid("image must be base64, urls are not allowed")
	}
	if idx := strings.Index(trimmed, "base64,"); strings.HasPrefix(trimmed, "data:") && idx >= 0 {
		trimmed = trimmed[idx+len("base64,"):]
	}
	if trimmed == "" {
		return "", invalid("image is empty")
	}
	if estimateBase64Bytes(trimmed) > MAX_IMAGE_BYTES {
		return "", invalid("image must be at most %d MiB", MAX_IMAGE_BYTES/(1024*1024))
	}
	return trimmed, nil
}

func estimateBase64Bytes(value string) int {
	padding := 0
	if strings.HasSuffix(value, "==") {
		padding = 2
	} else if strings.HasSuffix(value, "=") {
		padding = 1
	}
	size := len(value)*3/4 - padding
	if size < 0 {
		return 0
	}
	return size
}
