package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/rendis/flowarch/pkg/schema"
)

// Default placement and styling for addNode.
const (
	DefaultX = 100
	DefaultY = 100
)

// AddNodeArgs is the argument record of addNode.
type AddNodeArgs struct {
	Label string   `json:"label" validate:"required"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Type  string   `json:"type,omitempty" validate:"omitempty,oneof=process decision start end"`
	Color string   `json:"color,omitempty"`
}

// UpdateNodeArgs is the argument record of updateNode. Nil fields are left
// unchanged on the target node.
type UpdateNodeArgs struct {
	ID    string   `json:"id" validate:"required"`
	Label *string  `json:"label,omitempty"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Color *string  `json:"color,omitempty"`
}

// DeleteNodeArgs is the argument record of deleteNode.
type DeleteNodeArgs struct {
	ID string `json:"id" validate:"required"`
}

// ConnectNodesArgs is the argument record of connectNodes.
type ConnectNodesArgs struct {
	SourceID string `json:"sourceId" validate:"required"`
	TargetID string `json:"targetId" validate:"required"`
	Label    string `json:"label,omitempty"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func argsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON names so the model sees the field it actually sent.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// decodeArgs converts the model's loosely typed argument map into a record
// and validates it.
func decodeArgs(kind Kind, args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: cannot encode arguments: %s", kind, err.Error()).
			WithCause(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid arguments: %s", kind, err.Error()).
			WithCause(err)
	}
	if err := argsValidator().Struct(out); err != nil {
		return validationError(kind, err)
	}
	return nil
}

func validationError(kind Kind, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: %s", kind, err.Error()).WithCause(err)
	}

	violations := make([]map[string]any, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = fmt.Sprintf("%s is required", fe.Field())
		case "oneof":
			msg = fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
		default:
			msg = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
		}
		msgs = append(msgs, msg)
		violations = append(violations, map[string]any{
			"field": fe.Field(),
			"rule":  fe.Tag(),
		})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: %s", kind, strings.Join(msgs, "; ")).
		WithCause(err).
		WithDetails(map[string]any{"violations": violations})
}
