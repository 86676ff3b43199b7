package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const stampLayout = "20060102_150405"

// NewRunID returns "<YYYYMMDD_HHMMSS>_<8 hex>"; the random suffix keeps runs
// started in the same second apart.
func NewRunID(now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return now.Format(stampLayout) + "_" + id[:8]
}
