package manager

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

// SubmitRequest is what callers supply to submit a transaction.
type SubmitRequest struct {
	TransactionID      string          `json:"transaction_id,omitempty" validate:"omitempty,max=128"`
	UserID             string          `json:"user_id" validate:"required,max=128"`
	SourceAccount      string          `json:"source_account" validate:"required_if=Type transfer,required_if=Type payment,required_if=Type withdrawal,max=128"`
	DestinationAccount string          `json:"destination_account" validate:"required_if=Type transfer,required_if=Type deposit,max=128"`
	Type               domain.Type     `json:"transaction_type" validate:"required,oneof=transfer payment withdrawal deposit"`
	Amount             decimal.Decimal `json:"amount" validate:"positive_decimal"`
	Currency           string          `json:"currency" validate:"required,len=3,alpha"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	Priority           domain.Priority `json:"priority,omitempty" validate:"omitempty,min=1,max=5"`
	TimeoutSeconds     int             `json:"timeout_seconds,omitempty" validate:"gte=0"`
	MaxRetries         int             `json:"max_retries,omitempty" validate:"gte=0,lte=10"`
}

// SubmitValidationError lists every problem found in a SubmitRequest.
type SubmitValidationError struct {
	Problems []string
}

func (e *SubmitValidationError) Error() string {
	return "invalid transaction: " + strings.Join(e.Problems, "; ")
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		// decimal.Decimal is a struct, so it is inspected directly rather than
		// through a custom type func.
		_ = v.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
			d, ok := fl.Field().Interface().(decimal.Decimal)
			return ok && d.IsPositive()
		})
		validate = v
	})
	return validate
}

// Validate checks the request shape. It returns *SubmitValidationError.
func (r SubmitRequest) Validate() error {
	r.Type = domain.ParseType(string(r.Type))

	var problems []string
	if err := requestValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &SubmitValidationError{Problems: []string{err.Error()}}
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}
	if r.Type == domain.TypeTransfer && r.SourceAccount != "" && r.SourceAccount == r.DestinationAccount {
		problems = append(problems, "destination_account must differ from source_account")
	}
	if len(problems) > 0 {
		return &SubmitValidationError{Problems: problems}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", fe.Field())
	case "positive_decimal":
		return fmt.Sprintf("%s must be greater than zero", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "len":
		return fmt.Sprintf("%s must be %s characters", fe.Field(), fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
