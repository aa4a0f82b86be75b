package validation

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// Validation constants
	MaxParticipants  = 16
	MaxServiceLength = 64
	MaxEvidenceNotes = 256

	// Node identifiers are short alphanumeric names (Edge1, Core2, ...)
	nodePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)
)

func init() {
	validate = validator.New()
}

// TransactionRequest is an externally supplied request to run a distributed
// transaction across a set of participant nodes.
type TransactionRequest struct {
	Service      string   `json:"service" validate:"omitempty,max=64"`
	Class        string   `json:"class" validate:"omitempty,oneof=CRITICAL STANDARD BACKGROUND"`
	Participants []string `json:"participants" validate:"required,min=1,max=16,dive,min=1,max=32"`
}

// EvidenceReport is an externally supplied Byzantine evidence submission.
type EvidenceReport struct {
	Suspect    string  `json:"suspect" validate:"required"`
	Reporter   string  `json:"reporter" validate:"required"`
	Kind       string  `json:"kind" validate:"required,oneof=CONFLICTING_MESSAGES INVALID_SIGNATURE PROTOCOL_VIOLATION TIMING_ATTACK DATA_CORRUPTION"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Notes      string  `json:"notes" validate:"omitempty,max=256"`
}

// ValidateTransactionRequest validates a transaction submission.
func ValidateTransactionRequest(req *TransactionRequest) error {
	if req == nil {
		return errors.New("transaction request cannot be nil")
	}

	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}

	seen := make(map[string]struct{}, len(req.Participants))
	for i, p := range req.Participants {
		if !nodePattern.MatchString(p) {
			return fmt.Errorf("Participants: node '%s' at index %d contains invalid characters (only alphanumeric allowed)", p, i)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("Participants: node '%s' listed more than once", p)
		}
		seen[p] = struct{}{}
	}

	return nil
}

// ValidateEvidenceReport validates a Byzantine evidence submission.
func ValidateEvidenceReport(req *EvidenceReport) error {
	if req == nil {
		return errors.New("evidence report cannot be nil")
	}

	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}

	if !nodePattern.MatchString(req.Suspect) {
		return fmt.Errorf("Suspect: node '%s' contains invalid characters", req.Suspect)
	}
	if !nodePattern.MatchString(req.Reporter) {
		return fmt.Errorf("Reporter: node '%s' contains invalid characters", req.Reporter)
	}
	if req.Suspect == req.Reporter {
		return fmt.Errorf("Reporter: node '%s' cannot report itself", req.Reporter)
	}

	return nil
}

// ValidateNodeName validates a bare node identifier.
func ValidateNodeName(name string) error {
	if name == "" {
		return errors.New("node name cannot be empty")
	}
	if !nodePattern.MatchString(name) {
		return fmt.Errorf("node name '%s' is invalid (must start with a letter, alphanumeric only)", name)
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Field()
		tag := e.Tag()
		param := e.Param()

		switch tag {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of %s", field, param)
		case "gte":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "lte":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, tag)
		}
	}

	return err
}
