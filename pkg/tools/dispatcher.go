package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/conversation"
)

// Dispatcher routes tool-use requests to registered handlers. Registration
// and dispatch are safe to call from different goroutines. Tool failures
// never surface as Go errors to the caller: an unknown tool or a handler
// error becomes feedback text in the result so the model can correct itself
// on the next turn.
type Dispatcher struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
}

func NewDispatcher(defs ...*Definition) *Dispatcher {
	d := &Dispatcher{
		definitions: make(map[string]*Definition),
	}
	for _, def := range defs {
		d.Register(def)
	}
	return d
}

func (d *Dispatcher) Register(def *Definition) {
	if def == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.definitions[def.Name] = def
}

// Definitions returns the registered tools, for conversation registration.
func (d *Dispatcher) Definitions() []*Definition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	defs := make([]*Definition, 0, len(d.definitions))
	for _, def := range d.definitions {
		defs = append(defs, def)
	}
	return defs
}

// Result is the outcome of dispatching one tool use. Feedback marks results
// that report a failure rather than tool output.
type Result struct {
	ToolID   string
	Name     string
	Content  string
	Feedback bool
}

// Dispatch executes a single tool use.
func (d *Dispatcher) Dispatch(ctx context.Context, use *conversation.ToolUseContent) Result {
	d.mu.RLock()
	def, ok := d.definitions[use.Name]
	d.mu.RUnlock()
	if !ok {
		log.Warn().Str("tool", use.Name).Str("toolID", use.ToolID).Msg("unknown tool requested")
		return Result{
			ToolID:   use.ToolID,
			Name:     use.Name,
			Content:  fmt.Sprintf("error: unknown tool %q", use.Name),
			Feedback: true,
		}
	}

	input := use.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	log.Debug().Str("tool", use.Name).Str("toolID", use.ToolID).Msg("dispatching tool call")

	content, err := def.Handler(ctx, input)
	if err != nil {
		log.Warn().Str("tool", use.Name).Err(err).Msg("tool handler failed")
		return Result{
			ToolID:   use.ToolID,
			Name:     use.Name,
			Content:  fmt.Sprintf("error: %v", err),
			Feedback: true,
		}
	}

	return Result{
		ToolID:  use.ToolID,
		Name:    use.Name,
		Content: content,
	}
}
