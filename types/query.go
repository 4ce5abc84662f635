package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

// AskParams is the JSON body of a grounded question against the index.
type AskParams struct {
	Prompt       string `json:"prompt" validate:"required,max=4000"`
	ContractType string `json:"contract_type" validate:"omitempty,max=64"`
	Jurisdiction string `json:"jurisdiction" validate:"omitempty,max=64"`
	TopK         int    `json:"top_k" validate:"omitempty,min=1,max=20"`
}

// UploadForm holds the non-file multipart fields of an upload.
type UploadForm struct {
	Email        string `form:"email" validate:"omitempty,email"`
	ContractType string `form:"contract_type" validate:"omitempty,max=64"`
	Jurisdiction string `form:"jurisdiction" validate:"omitempty,max=64"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *AskParams) Validate() map[string]string {
	return structErrors(params)
}

func (params *UploadForm) Validate() map[string]string {
	return structErrors(params)
}

func structErrors(v any) map[string]string {
	if err := validate.Struct(v); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type SearchResponse struct {
	Answer     string    `json:"answer"`
	Sources    []Source  `json:"sources"`
	Confidence float64   `json:"confidence"`
	Degraded   bool      `json:"context_degraded"`
	Timestamp  time.Time `json:"timestamp"`
}
