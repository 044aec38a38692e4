package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/shipyard/internal/core"
	"github.com/edvin/shipyard/internal/model"
)

func TestProjectCreate_InvalidJSON(t *testing.T) {
	h := NewProject(core.NewProjectService(nil))
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/projects", "{bad json")

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProjectCreate_MissingSlug(t *testing.T) {
	h := NewProject(core.NewProjectService(nil))
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/projects", map[string]string{
		"build_command": "npm run build",
	})

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "slug")
}

func TestProjectCreate_InvalidSlug(t *testing.T) {
	tests := []struct {
		name string
		slug string
	}{
		{"uppercase", "MySite"},
		{"leading dash", "-site"},
		{"trailing dash", "site-"},
		{"underscore", "my_site"},
		{"spaces", "my site"},
		{"too long", "a" + strings.Repeat("b", 63)},
		{"dots", "my.site"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewProject(core.NewProjectService(nil))
			rec := httptest.NewRecorder()
			r := newRequest(http.MethodPost, "/projects", map[string]string{"slug": tt.slug})

			h.Create(rec, r)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestProjectCreate_Success(t *testing.T) {
	db := new(handlerMockDB)
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "INSERT INTO projects")
	}), mock.Anything).Return(execTag(1), nil)
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "INSERT INTO team_members")
	}), mock.Anything).Return(execTag(1), nil)

	h := NewProject(core.NewProjectService(db))
	rec := httptest.NewRecorder()
	r := withUser(newRequest(http.MethodPost, "/projects", map[string]string{
		"slug":          "my-site",
		"build_command": "npm run build",
		"output_dir":    "dist",
	}), "user-1")

	h.Create(rec, r)

	require.Equal(t, http.StatusCreated, rec.Code)
	var p model.Project
	require.NoError(t, decodeBody(rec, &p))
	assert.Equal(t, "my-site", p.Slug)
	assert.Equal(t, "user-1", p.OwnerID)
	assert.NotEmpty(t, p.ID)
	db.AssertExpectations(t)
}

func TestProjectGet_EmptyID(t *testing.T) {
	h := NewProject(core.NewProjectService(nil))
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/projects/", nil), "id", "")

	h.Get(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProjectGet_NotFound(t *testing.T) {
	db := new(handlerMockDB)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(noRowsRow())

	h := NewProject(core.NewProjectService(db))
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/projects/"+validID, nil), "id", validID)

	h.Get(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeErrorResponse(rec)["code"])
}

func TestProjectDelete_EmptyID(t *testing.T) {
	h := NewProject(core.NewProjectService(nil))
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodDelete, "/projects/", nil), "id", "")

	h.Delete(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
