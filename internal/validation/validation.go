// Package validation holds the pure shape checks applied to every inbound
// payload before anything is persisted. It knows nothing about storage.
package validation

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/pkg/errors"
)

// Validator wraps a configured validator/v10 instance
type Validator struct {
	v   *validator.Validate
	now func() time.Time
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	return &Validator{v: v, now: time.Now}
}

// Struct runs the tag rules and converts failures into a 400 AppError
func (val *Validator) Struct(s interface{}) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.NewBadRequest("invalid request", err)
	}

	fields := make([]errors.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, errors.FieldError{
			Field:   fe.Field(),
			Message: message(fe),
		})
	}
	return errors.NewValidation(fields)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "required_without":
		return "is required when audioUrl is not given"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "uuid":
		return "must be a valid UUID"
	case "url":
		return "must be a valid URL"
	}
	return "is invalid"
}

func (val *Validator) Login(req *model.LoginRequest) error {
	var fields []errors.FieldError
	if strings.TrimSpace(req.Username) == "" {
		fields = append(fields, errors.FieldError{Field: "username", Message: "is required"})
	}
	if req.Password == "" {
		fields = append(fields, errors.FieldError{Field: "password", Message: "is required"})
	}
	if len(fields) > 0 {
		return errors.NewValidation(fields)
	}
	return nil
}

func (val *Validator) Register(req *model.RegisterRequest) error {
	return val.Struct(req)
}

// CreatePatient requires an age unless one can be derived from dateOfBirth,
// and rejects birth dates in the future.
func (val *Validator) CreatePatient(req *model.CreatePatientRequest) error {
	if err := val.Struct(req); err != nil {
		return err
	}
	if req.DateOfBirth != nil {
		if err := val.dateOfBirth(*req.DateOfBirth); err != nil {
			return err
		}
	} else if req.Age == nil {
		return errors.NewValidation([]errors.FieldError{{Field: "age", Message: "is required when dateOfBirth is not given"}})
	}
	return nil
}

func (val *Validator) UpdatePatient(req *model.PatientUpdate) error {
	if req.Empty() {
		return errors.NewBadRequest("no fields to update", nil)
	}
	if err := val.Struct(req); err != nil {
		return err
	}
	if req.DateOfBirth != nil {
		return val.dateOfBirth(*req.DateOfBirth)
	}
	return nil
}

func (val *Validator) dateOfBirth(s string) error {
	dob, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return errors.NewValidation([]errors.FieldError{{Field: "dateOfBirth", Message: "must be a date in YYYY-MM-DD format"}})
	}
	age := model.AgeOn(dob, val.now())
	if age < 0 || dob.After(val.now()) {
		return errors.NewValidation([]errors.FieldError{{Field: "dateOfBirth", Message: "must not be in the future"}})
	}
	if age > 150 {
		return errors.NewValidation([]errors.FieldError{{Field: "dateOfBirth", Message: "implies an age above 150"}})
	}
	return nil
}

func (val *Validator) CreateConsultation(req *model.CreateConsultationRequest) error {
	return val.Struct(req)
}

func (val *Validator) AttachAudio(req *model.AttachAudioRequest) error {
	return val.Struct(req)
}
