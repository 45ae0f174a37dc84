// Package validate checks that a provider response is structurally usable:
// tool invocations name registered tools and conform to their input schemas.
package validate

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/go-go-golems/parley/pkg/chat/api"
	"github.com/go-go-golems/parley/pkg/conversation"
)

// Result is the validation outcome. Reason is human-readable and doubles as
// the input to the provider's post-validation hook.
type Result struct {
	Valid  bool
	Reason string
}

func valid() *Result {
	return &Result{Valid: true}
}

func invalid(format string, args ...interface{}) *Result {
	return &Result{Reason: fmt.Sprintf(format, args...)}
}

// CheckFunc is an optional caller-supplied semantic check applied after the
// structural checks pass.
type CheckFunc func(resp *api.Response) error

// Validator is a pure function object; Validate mutates nothing.
type Validator struct {
	check CheckFunc
}

type Option func(*Validator)

func WithCheck(check CheckFunc) Option {
	return func(v *Validator) { v.check = check }
}

func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Validate checks the response against the conversation's registered tools.
// The first failing check aborts with a descriptive reason.
func (v *Validator) Validate(resp *api.Response, conv *conversation.Conversation) *Result {
	uses := resp.ToolUses()

	if resp.StopReason == api.StopReasonMaxTokens && len(uses) > 0 {
		return invalid("response truncated mid tool call: output length limit reached while emitting tool input")
	}

	for _, use := range uses {
		spec, ok := conv.GetTool(use.Name)
		if !ok {
			return invalid("tool %s is not registered on the conversation", use.Name)
		}

		if len(spec.InputSchema) == 0 {
			continue
		}

		schemaLoader := gojsonschema.NewBytesLoader(spec.InputSchema)
		input := use.Input
		if len(input) == 0 {
			input = []byte("{}")
		}
		documentLoader := gojsonschema.NewBytesLoader(input)

		result, err := gojsonschema.Validate(schemaLoader, documentLoader)
		if err != nil {
			return invalid("tool %s input could not be validated: %v", use.Name, err)
		}
		if !result.Valid() {
			for _, desc := range result.Errors() {
				return invalid("tool %s input invalid: %s", use.Name, desc.String())
			}
		}
	}

	if v.check != nil {
		if err := v.check(resp); err != nil {
			return invalid("semantic check failed: %v", err)
		}
	}

	return valid()
}
