package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// DecodeRequest decodes a job payload into dst, which should already hold
// the request defaults, and validates the result against its struct tags.
// Any failure is a non-retryable request error for provider.
func DecodeRequest(provider Name, payload json.RawMessage, dst any) error {
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, dst); err != nil {
			return RequestFailed(provider, "invalid request payload: %v", err)
		}
	}
	return Validate(provider, dst)
}

// Validate checks v against its validate struct tags.
func Validate(provider Name, v any) error {
	if err := validatorInstance().Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), describeTag(fe)))
			}
			return RequestFailed(provider, "invalid request: %s", strings.Join(parts, "; "))
		}
		return RequestFailed(provider, "invalid request: %v", err)
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
