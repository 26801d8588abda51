package validation

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"eventapp-telegram-bot/internal/common/errors"
)

const MaxEmailLength = 254

// emailRegex accepts local@domain with non-whitespace parts and a dot in the domain.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsEmail reports whether s matches the email grammar used by the linking dialog.
func IsEmail(s string) bool {
	if len(s) == 0 || len(s) > MaxEmailLength {
		return false
	}
	return emailRegex.MatchString(s)
}

// NormalizeEmail trims surrounding whitespace. Case is preserved; lookups are case-insensitive.
func NormalizeEmail(s string) string {
	return strings.TrimSpace(s)
}

// ValidatePassword checks a password candidate before it reaches the hash
// comparator. There is no upper bound: bcrypt compares only the first 72
// bytes, the same prefix EventApp hashed.
func ValidatePassword(p string) error {
	if p == "" {
		return fmt.Errorf("password cannot be empty")
	}
	return nil
}

// FromBindingError converts gin/validator binding failures into a validation AppError.
func FromBindingError(err error) *errors.AppError {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fieldName(fe))
		}
		appErr := errors.New(errors.ErrCodeValidation, "Missing required fields: "+strings.Join(fields, ", "))
		return appErr.WithDetail("fields", fields)
	}
	return errors.Wrap(err, errors.ErrCodeValidation, "Invalid request body")
}

func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return fe.Namespace()
	}
	// JSON names are camelCase; struct fields are exported Go names.
	return strings.ToLower(name[:1]) + name[1:]
}
