package booking

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

const MaxNotesLength = 1000

// Contact is what the visitor enters on the contact step.
type Contact struct {
	Name    string `json:"name" validate:"required,max=255"`
	Email   string `json:"email" validate:"required,email,max=255"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,phone,max=50"`
	Company string `json:"company,omitempty" validate:"omitempty,max=255"`
	Notes   string `json:"notes,omitempty" validate:"max=1000"`
}

func (c Contact) Normalize() Contact {
	return Contact{
		Name:    strings.TrimSpace(c.Name),
		Email:   strings.ToLower(strings.TrimSpace(c.Email)),
		Phone:   strings.TrimSpace(c.Phone),
		Company: strings.TrimSpace(c.Company),
		Notes:   strings.TrimSpace(c.Notes),
	}
}

var (
	validate   = newValidator()
	phoneChars = regexp.MustCompile(`^\+?[0-9 ()\-.]{6,}$`)
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phoneChars.MatchString(fl.Field().String())
	})
	return v
}

var tagMessages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email address",
	"phone":    "must be a valid phone number",
	"max":      "is too long",
}

// ValidateContact checks c against the type's conditional requirements.
// A nil return means c is acceptable.
func ValidateContact(c Contact, typ model.AppointmentType) *ValidationError {
	fields := map[string]string{}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return invalid("contact", "is invalid")
		}
		for _, fe := range verrs {
			msg, ok := tagMessages[fe.Tag()]
			if !ok {
				msg = "is invalid"
			}
			fields[fe.Field()] = msg
		}
	}
	if typ.RequirePhone && c.Phone == "" {
		fields[FieldPhone] = tagMessages["required"]
	}
	if typ.RequireCompany && c.Company == "" {
		fields[FieldCompany] = tagMessages["required"]
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
