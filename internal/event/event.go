// Package event translates raw agent runtime events into the minimal wire
// format streamed back to callers.
//
// Two outbound shapes exist:
//
//	{"type":"text","data":"..."}
//	{"type":"tool_use","tool_name":"..."}
//
// Anything the translator does not recognise is dropped.
package event

import (
	"encoding/json"
	"fmt"
)

// Raw is an opaque, shape-varying event produced by an agent runtime.
// It is only ever inspected, never forwarded.
type Raw map[string]any

// Type is the discriminator of an Outbound event.
type Type string

const (
	TypeText    Type = "text"
	TypeToolUse Type = "tool_use"
)

// UnknownToolName is reported when a tool-use start carries no name.
const UnknownToolName = "unknown"

// Outbound is a single event delivered to the caller.
type Outbound struct {
	Type     Type
	Data     string
	ToolName string
}

// Text returns a text event.
func Text(data string) Outbound {
	return Outbound{Type: TypeText, Data: data}
}

// ToolUse returns a tool_use event.
func ToolUse(name string) Outbound {
	if name == "" {
		name = UnknownToolName
	}
	return Outbound{Type: TypeToolUse, ToolName: name}
}

// MarshalJSON renders exactly one of the two wire shapes.
func (o Outbound) MarshalJSON() ([]byte, error) {
	switch o.Type {
	case TypeText:
		return json.Marshal(struct {
			Type Type   `json:"type"`
			Data string `json:"data"`
		}{o.Type, o.Data})
	case TypeToolUse:
		return json.Marshal(struct {
			Type     Type   `json:"type"`
			ToolName string `json:"tool_name"`
		}{o.Type, o.ToolName})
	default:
		return nil, fmt.Errorf("unknown outbound event type %q", o.Type)
	}
}

// UnmarshalJSON accepts either wire shape.
func (o *Outbound) UnmarshalJSON(b []byte) error {
	var wire struct {
		Type     Type   `json:"type"`
		Data     string `json:"data"`
		ToolName string `json:"tool_name"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	switch wire.Type {
	case TypeText:
		*o = Text(wire.Data)
	case TypeToolUse:
		*o = ToolUse(wire.ToolName)
	default:
		return fmt.Errorf("unknown outbound event type %q", wire.Type)
	}
	return nil
}
