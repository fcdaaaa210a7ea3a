package model

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a 32-character hex identifier used for primary keys and
// schema-name suffixes.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
