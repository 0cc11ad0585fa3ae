package models

// ImageJobRequest is the client payload for a text-to-image generation job.
// CFG is a pointer so an explicit 0, a valid value, is distinguishable from
// an absent field.
type ImageJobRequest struct {
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	Steps          int      `json:"steps"`
	CFG            *float64 `json:"cfg"`
	Seed           int64    `json:"seed"`
	RandomizeSeed  bool     `json:"randomize_seed"`
}

// VideoJobRequest is the client payload for an image-to-video or
// text-to-video generation job. Seconds is constrained to {5, 8} and drives
// the ticket cost tier.
type VideoJobRequest struct {
	Mode           string `json:"mode"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	ImageBase64    string `json:"image_base64"`
	ImageName      string `json:"image_name"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Seconds        int    `json:"seconds"`
	Seed           int64  `json:"seed"`
	RandomizeSeed  bool   `json:"randomize_seed"`
}

// SettledMark is the redis snapshot of a settled usage id. The ledger's
// unique index remains the source of truth; this is only a fast path so
// repeated polls skip the database.
type SettledMark struct {
	UsageID     string `msgpack:"usage_id"`
	Action      string `msgpack:"action"`
	TicketsLeft int    `msgpack:"tickets_left"`
	SettledAt   int64  `msgpack:"settled_at"`
}
