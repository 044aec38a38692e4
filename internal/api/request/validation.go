package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/edvin/shipyard/internal/core"
)

var validate = validator.New()

var branchRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]{0,254}$`)
var commitRegex = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

func init() {
	// Slugs become DNS labels (project subdomains, region IDs), so the tag
	// delegates to the one rule in core rather than carrying a second regex.
	validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return core.ValidateSlug(fl.Field().String()) == nil
	})
	validate.RegisterValidation("branch", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return branchRegex.MatchString(s) && !strings.Contains(s, "..")
	})
	validate.RegisterValidation("commitref", func(fl validator.FieldLevel) bool {
		return commitRegex.MatchString(fl.Field().String())
	})
}

func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

func RequireID(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("missing required ID")
	}
	return s, nil
}
