package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewHumanID returns a short, human-friendly task reference such as FOT-1A2B3C4D.
// Numeric task ids come from the store sequence; this is only a display handle.
func NewHumanID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "FOT-" + strings.ToUpper(raw[:8])
}
