package request

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseListParams_Defaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/audit-logs", nil)
	p := ParseListParams(r, "created_at")
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Equal(t, "created_at", p.Sort)
	assert.Equal(t, "desc", p.Order)
	assert.Empty(t, p.Search)
}

func TestParseListParams_Explicit(t *testing.T) {
	r := httptest.NewRequest("GET", "/audit-logs?limit=10&cursor=42&search=failover&sort=action&order=asc", nil)
	p := ParseListParams(r, "created_at")
	assert.Equal(t, 10, p.Limit)
	assert.Equal(t, "42", p.Cursor)
	assert.Equal(t, "failover", p.Search)
	assert.Equal(t, "action", p.Sort)
	assert.Equal(t, "asc", p.Order)
}

func TestParseListParams_BadOrderFallsBack(t *testing.T) {
	r := httptest.NewRequest("GET", "/audit-logs?order=sideways", nil)
	p := ParseListParams(r, "created_at")
	assert.Equal(t, "desc", p.Order)
}
