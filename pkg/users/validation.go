package users

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kkjha00007/resigate/pkg/rbac"
)

// newValidator builds a validator that reports JSON field names and knows
// the role enumeration
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for an empty tag or nil func
	_ = v.RegisterValidation("known_role", func(fl validator.FieldLevel) bool {
		return rbac.Role(fl.Field().String()).IsKnown()
	})
	return v
}

// validateStruct converts validator failures into a ValidationError
func validateStruct(v *validator.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("failed to validate request: %w", err)
	}

	verr := &ValidationError{Fields: make(map[string]string, len(validationErrors))}
	for _, fe := range validationErrors {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			verr.Fields[field] = fmt.Sprintf("%s is required", field)
		case "email":
			verr.Fields[field] = fmt.Sprintf("%s must be a valid email", field)
		case "min":
			verr.Fields[field] = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		case "max":
			verr.Fields[field] = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		case "known_role":
			verr.Fields[field] = fmt.Sprintf("%s %q is not a recognized role", field, fe.Value())
		default:
			verr.Fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", field, fe.Tag())
		}
	}
	return verr
}

// normalizeOverrides validates custom permissions and returns them with
// duplicates collapsed. An explicit empty list stays present and empty.
// With strict set, features outside the catalog are rejected.
func normalizeOverrides(overrides map[rbac.Feature][]rbac.Permission, catalog *rbac.Catalog, strict bool) (map[rbac.Feature][]rbac.Permission, error) {
	if overrides == nil {
		return nil, nil
	}

	verr := &ValidationError{Fields: make(map[string]string)}
	out := make(map[rbac.Feature][]rbac.Permission, len(overrides))
	for feature, perms := range overrides {
		key := "custom_permissions." + string(feature)
		if feature == "" {
			verr.Fields["custom_permissions"] = "feature name must not be empty"
			continue
		}
		if strict && !catalog.HasFeature(feature) {
			verr.Fields[key] = fmt.Sprintf("unknown feature %q", feature)
			continue
		}
		for _, p := range perms {
			if strings.TrimSpace(string(p)) == "" {
				verr.Fields[key] = "permission names must not be empty"
				break
			}
		}
		out[feature] = []rbac.Permission(rbac.NewPermissionSet(perms...))
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return out, nil
}
