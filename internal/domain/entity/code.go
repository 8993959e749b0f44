package entity

import (
	"strings"

	"github.com/google/uuid"
)

// Code prefixes
const (
	RequestCodePrefix     = "REQ"
	LiquidationCodePrefix = "LIQ"
)

// NewCode returns an opaque short code such as REQ-1A2B3C4D
func NewCode(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + strings.ToUpper(id[:8])
}
