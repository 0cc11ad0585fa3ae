package models

import (
	"github.com/uptrace/bun"
)

// Config is a key/value row for runtime-tunable settings (rate limits,
// reconcile thresholds). Values are strings; callers parse as needed.
type Config struct {
	bun.BaseModel `bun:"table:config"`
	Key           string `bun:"key,pk" json:"key"`
	Value         string `bun:"value" json:"value"`
}
