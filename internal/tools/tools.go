// Package tools defines the tool model shared by local tools, gateway tools
// and the agent runtime.
package tools

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownTool is returned by Set.Call for names that were never registered.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is something the agent can call.
type Tool interface {
	Name() string
	Description() string
	// InputSchema is a JSON Schema object describing the arguments.
	InputSchema() map[string]any
	// Call runs the tool and returns its textual result.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Func adapts a plain function to the Tool interface.
type Func struct {
	ToolName string
	Desc     string
	Schema   map[string]any
	Fn       func(ctx context.Context, args map[string]any) (string, error)
}

func (f Func) Name() string        { return f.ToolName }
func (f Func) Description() string { return f.Desc }

func (f Func) InputSchema() map[string]any {
	if f.Schema == nil {
		return ObjectSchema(nil)
	}
	return f.Schema
}

func (f Func) Call(ctx context.Context, args map[string]any) (string, error) {
	if f.Fn == nil {
		return "", fmt.Errorf("tool %s has no implementation", f.ToolName)
	}
	return f.Fn(ctx, args)
}

// ObjectSchema returns an object schema with the given properties.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Set is an ordered collection of tools with unique names. The first tool
// registered under a name wins; later ones are reported as collisions.
// A Set is not safe for concurrent mutation.
type Set struct {
	ordered    []Tool
	byName     map[string]Tool
	collisions []string
}

// NewSet returns a Set containing the given tools.
func NewSet(ts ...Tool) *Set {
	s := &Set{byName: make(map[string]Tool)}
	s.Add(ts...)
	return s
}

// Add registers tools in order and returns the names that were skipped
// because a tool with the same name already exists.
func (s *Set) Add(ts ...Tool) []string {
	var skipped []string
	for _, t := range ts {
		if t == nil {
			continue
		}
		name := t.Name()
		if _, exists := s.byName[name]; exists {
			skipped = append(skipped, name)
			continue
		}
		s.byName[name] = t
		s.ordered = append(s.ordered, t)
	}
	s.collisions = append(s.collisions, skipped...)
	return skipped
}

// Tools returns the registered tools in registration order.
func (s *Set) Tools() []Tool {
	if s == nil {
		return nil
	}
	out := make([]Tool, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Names returns the registered tool names in registration order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.ordered))
	for _, t := range s.ordered {
		names = append(names, t.Name())
	}
	return names
}

// Collisions returns every name that was skipped so far.
func (s *Set) Collisions() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.collisions...)
}

// Len returns the number of registered tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ordered)
}

// Get looks up a tool by name.
func (s *Set) Get(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.byName[name]
	return t, ok
}

// Call runs the named tool. A panicking tool is reported as an error.
func (s *Set) Call(ctx context.Context, name string, args map[string]any) (out string, err error) {
	t, ok := s.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("tool %s panicked: %v", name, r)
		}
	}()
	return t.Call(ctx, args)
}
