package middleware

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractResource_SimplePath(t *testing.T) {
	resType, resID := extractResource("/api/v1/projects")
	assert.NotNil(t, resType)
	assert.Equal(t, "projects", *resType)
	assert.Nil(t, resID)
}

func TestExtractResource_WithID(t *testing.T) {
	resType, resID := extractResource("/api/v1/projects/abc-123")
	assert.NotNil(t, resType)
	assert.Equal(t, "projects", *resType)
	assert.NotNil(t, resID)
	assert.Equal(t, "abc-123", *resID)
}

func TestExtractResource_Nested(t *testing.T) {
	resType, resID := extractResource("/api/v1/projects/abc/deployments/def")
	assert.NotNil(t, resType)
	assert.Equal(t, "deployments", *resType)
	assert.NotNil(t, resID)
	assert.Equal(t, "def", *resID)
}

func TestExtractResource_NestedNoID(t *testing.T) {
	resType, resID := extractResource("/api/v1/projects/abc/deployments")
	assert.NotNil(t, resType)
	assert.Equal(t, "deployments", *resType)
	assert.Nil(t, resID)
}

func TestExtractResource_ActionSuffix(t *testing.T) {
	// Action verbs land in the resource-type slot with no ID; the acted-on
	// deployment is still recoverable from the recorded path.
	resType, resID := extractResource("/api/v1/deployments/dep-1/cancel")
	assert.NotNil(t, resType)
	assert.Equal(t, "cancel", *resType)
	assert.Nil(t, resID)
}

func TestSanitizeBody(t *testing.T) {
	body := []byte(`{"name":"test","token":"secret123","key":"shp_abc"}`)
	sanitized := sanitizeBody(body)

	var result map[string]any
	json.Unmarshal(sanitized, &result)
	assert.Equal(t, "test", result["name"])
	assert.Equal(t, "[REDACTED]", result["token"])
	assert.Equal(t, "[REDACTED]", result["key"])
}
