package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier.
func NewID() string { return uuid.NewString() }

// NewExecutionID returns "<workflowID>_<short random suffix>".
func NewExecutionID(workflowID string) string {
	return workflowID + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
