package generation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/GenFox/app/models"
)

// Limits on a single request.
const (
	MaxOutputCount = 8
	MaxImageInputs = 8
	MaxPriority    = 10
)

// SubmitRequest is what a tenant sends to start a generation.
type SubmitRequest struct {
	UserID          string            `json:"user_id" validate:"required,max=191"`
	Model           string            `json:"model" validate:"required,max=100"`
	Prompt          string            `json:"prompt" validate:"required,max=4000"`
	PromptVariables map[string]string `json:"prompt_variables" validate:"max=32"`
	ImageURLs       []string          `json:"image_urls" validate:"max=8,dive,url"`
	AspectRatio     string            `json:"aspect_ratio" validate:"omitempty,max=16"`
	OutputCount     int               `json:"output_count" validate:"omitempty,min=1,max=8"`
	Priority        int               `json:"priority" validate:"min=0,max=10"`
}

var validate = validator.New()

// Validate normalizes and checks the request.
func (r *SubmitRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Model = strings.TrimSpace(r.Model)
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.OutputCount == 0 {
		r.OutputCount = 1
	}
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("%w: %s failed on %s", ErrInvalidRequest, strings.ToLower(f.Field()), f.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (r *SubmitRequest) input() models.GenerationInput {
	return models.GenerationInput{
		Prompt:          r.Prompt,
		PromptVariables: r.PromptVariables,
		ImageURLs:       r.ImageURLs,
		AspectRatio:     r.AspectRatio,
		OutputCount:     r.OutputCount,
	}
}
