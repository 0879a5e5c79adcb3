package event

// Kind tags the result of classifying a raw event.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindTextDelta
	KindToolUseStart
	KindResult
)

func (k Kind) String() string {
	switch k {
	case KindTextDelta:
		return "text_delta"
	case KindToolUseStart:
		return "tool_use_start"
	case KindResult:
		return "result"
	default:
		return "unrecognized"
	}
}

// Classified is a raw event reduced to the fields the translator cares
// about. Only the fields matching Kind are set.
type Classified struct {
	Kind     Kind
	Text     string   // KindTextDelta
	ToolName string   // KindToolUseStart
	Parts    []string // KindResult
}

// Classify inspects a raw event. Precedence is text delta, then tool-use
// start, then terminal result. Classify may panic on pathological input;
// Translate guards against that.
func Classify(raw Raw) Classified {
	if raw == nil {
		return Classified{Kind: KindUnrecognized}
	}

	if inner, ok := asMap(raw["event"]); ok && len(inner) > 0 {
		if delta, ok := path(inner, "contentBlockDelta", "delta"); ok {
			if text, _ := delta["text"].(string); text != "" {
				return Classified{Kind: KindTextDelta, Text: text}
			}
		}
		if start, ok := path(inner, "contentBlockStart", "start"); ok {
			if toolUse, ok := asMap(start["toolUse"]); ok && len(toolUse) > 0 {
				name, _ := toolUse["name"].(string)
				if name == "" {
					name = UnknownToolName
				}
				return Classified{Kind: KindToolUseStart, ToolName: name}
			}
		}
		return Classified{Kind: KindUnrecognized}
	}

	if result, ok := asMap(raw["result"]); ok {
		if parts := resultParts(result); len(parts) > 0 {
			return Classified{Kind: KindResult, Parts: parts}
		}
	}

	return Classified{Kind: KindUnrecognized}
}

// Inspect is Classify guarded against panics: any failure while looking
// at the event makes it unrecognized.
func Inspect(raw Raw) (c Classified) {
	defer func() {
		if recover() != nil {
			c = Classified{Kind: KindUnrecognized}
		}
	}()
	return Classify(raw)
}

// Outbound returns the events a classified raw event translates to.
func (c Classified) Outbound() []Outbound {
	switch c.Kind {
	case KindTextDelta:
		return []Outbound{Text(c.Text)}
	case KindToolUseStart:
		return []Outbound{ToolUse(c.ToolName)}
	case KindResult:
		out := make([]Outbound, 0, len(c.Parts))
		for _, p := range c.Parts {
			out = append(out, Text(p))
		}
		return out
	case KindUnrecognized:
		return nil
	}
	return nil
}

// Translate converts a raw event into zero or more outbound events. It is
// total: any failure while inspecting the event yields nil.
func Translate(raw Raw) []Outbound {
	return Inspect(raw).Outbound()
}

// resultParts extracts text parts from result.message.content, falling
// back to result.content. A message may also be a bare string.
func resultParts(result map[string]any) []string {
	if msg, ok := result["message"]; ok {
		switch m := msg.(type) {
		case string:
			if m != "" {
				return []string{m}
			}
			return nil
		default:
			if mm, ok := asMap(m); ok {
				if parts := textParts(mm["content"]); len(parts) > 0 {
					return parts
				}
			}
		}
	}
	return textParts(result["content"])
}

func textParts(content any) []string {
	var parts []string
	appendPart := func(item any) {
		switch v := item.(type) {
		case string:
			if v != "" {
				parts = append(parts, v)
			}
		default:
			if m, ok := asMap(v); ok {
				if text, _ := m["text"].(string); text != "" {
					parts = append(parts, text)
				}
			}
		}
	}

	switch c := content.(type) {
	case string:
		appendPart(c)
	case []any:
		for _, item := range c {
			appendPart(item)
		}
	case []map[string]any:
		for _, item := range c {
			appendPart(item)
		}
	case []Raw:
		for _, item := range c {
			appendPart(map[string]any(item))
		}
	}
	return parts
}

func path(m map[string]any, keys ...string) (map[string]any, bool) {
	cur := m
	for _, k := range keys {
		next, ok := asMap(cur[k])
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Raw:
		return m, true
	default:
		return nil, false
	}
}
