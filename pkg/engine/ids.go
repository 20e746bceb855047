package engine

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateID checks that id can name an entity and its per-id spec file.
// Ids must be non-empty, must not contain path separators or NUL bytes,
// and must not start with a dot since hidden files are ignored when loading.
func ValidateID(id string) error {
	if err := validate.Var(id, "required,max=255,excludesall=/\\"); err != nil {
		return NewInvalidIDError("invalid id "+quote(id), err).WithID(id)
	}
	if strings.HasPrefix(id, ".") || strings.ContainsRune(id, 0) {
		return NewInvalidIDError("invalid id "+quote(id), nil).WithID(id)
	}
	return nil
}

func quote(s string) string {
	return "'" + s + "'"
}
