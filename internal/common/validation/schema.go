package validation

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DefaultSubmissionSchema describes a transport submission. Values are
// trimmed before validation.
const DefaultSubmissionSchema = `{
  "type": "object",
  "properties": {
    "deliveryNoteNumber":   {"type": "string", "minLength": 1},
    "truckLicensePlates":   {"type": "string", "minLength": 1},
    "trailerLicensePlates": {"type": "string"},
    "carrierCountry":       {"type": "string", "minLength": 1},
    "carrierTaxCode":       {"type": "string", "minLength": 1},
    "carrierFullName":      {"type": "string", "minLength": 1},
    "borderCrossing":       {"type": "string", "minLength": 1},
    "borderCrossingDate":   {"type": "string", "minLength": 1},
    "email":                {"type": "string", "minLength": 1, "format": "email"},
    "phoneNumber":          {"type": "string"}
  },
  "required": [
    "deliveryNoteNumber", "truckLicensePlates", "trailerLicensePlates",
    "carrierCountry", "carrierTaxCode", "carrierFullName",
    "borderCrossing", "borderCrossingDate", "email"
  ],
  "additionalProperties": {"type": "string"}
}`

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validator checks documents against a compiled JSON schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles schemaJSON.
func NewValidator(schemaJSON string) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// NewValidatorFromFile compiles the schema stored at path. An empty path
// selects DefaultSubmissionSchema.
func NewValidatorFromFile(path string) (*Validator, error) {
	if path == "" {
		return NewValidator(DefaultSubmissionSchema)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	return NewValidator(string(raw))
}

// Validate checks doc and returns every violation, sorted by field.
func (v *Validator) Validate(doc map[string]interface{}) (*ValidationResult, error) {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("schema validation failed to run: %w", err)
	}

	errs := make([]ValidationError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		field := re.Field()
		if field == "(root)" {
			if prop, ok := re.Details()["property"].(string); ok {
				field = prop
			}
		}
		errs = append(errs, ValidationError{
			Field:   field,
			Message: re.Description(),
			Code:    strings.ToUpper(re.Type()),
		})
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })

	return &ValidationResult{Valid: result.Valid(), Errors: errs}, nil
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}
