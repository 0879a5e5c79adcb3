package bedrock

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/giantswarm/agent-relay/internal/event"
)

// block accumulates one content block of the assistant message.
type block struct {
	text    strings.Builder
	isTool  bool
	toolID  string
	name    string
	rawJSON strings.Builder
}

// turn streams one model response, emitting every stream event as a raw
// event, and returns the assembled assistant message.
func (r *Runtime) turn(ctx context.Context, in *bedrockruntime.ConverseStreamInput, emit func(event.Raw) error) (types.Message, types.StopReason, map[string]toolInput, error) {
	stream, err := r.streamer.open(ctx, in)
	if err != nil {
		return types.Message{}, "", nil, fmt.Errorf("converse stream: %w", err)
	}
	defer stream.Close()

	blocks := map[int32]*block{}
	get := func(idx *int32) *block {
		i := aws.ToInt32(idx)
		b, ok := blocks[i]
		if !ok {
			b = &block{}
			blocks[i] = b
		}
		return b
	}

	var stop types.StopReason
	events := stream.Events()

loop:
	for {
		select {
		case <-ctx.Done():
			return types.Message{}, "", nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				break loop
			}

			var raw map[string]any
			switch v := ev.(type) {
			case *types.ConverseStreamOutputMemberMessageStart:
				raw = map[string]any{"messageStart": map[string]any{"role": string(v.Value.Role)}}

			case *types.ConverseStreamOutputMemberContentBlockStart:
				b := get(v.Value.ContentBlockIndex)
				start := map[string]any{}
				if tu, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					b.isTool = true
					b.toolID = aws.ToString(tu.Value.ToolUseId)
					b.name = aws.ToString(tu.Value.Name)
					start["toolUse"] = map[string]any{"name": b.name, "toolUseId": b.toolID}
				}
				raw = map[string]any{"contentBlockStart": map[string]any{
					"contentBlockIndex": aws.ToInt32(v.Value.ContentBlockIndex),
					"start":             start,
				}}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				b := get(v.Value.ContentBlockIndex)
				delta := map[string]any{}
				switch d := v.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					b.text.WriteString(d.Value)
					delta["text"] = d.Value
				case *types.ContentBlockDeltaMemberToolUse:
					input := aws.ToString(d.Value.Input)
					b.rawJSON.WriteString(input)
					delta["toolUse"] = map[string]any{"input": input}
				}
				raw = map[string]any{"contentBlockDelta": map[string]any{
					"contentBlockIndex": aws.ToInt32(v.Value.ContentBlockIndex),
					"delta":             delta,
				}}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				raw = map[string]any{"contentBlockStop": map[string]any{
					"contentBlockIndex": aws.ToInt32(v.Value.ContentBlockIndex),
				}}

			case *types.ConverseStreamOutputMemberMessageStop:
				stop = v.Value.StopReason
				raw = map[string]any{"messageStop": map[string]any{"stopReason": string(stop)}}

			case *types.ConverseStreamOutputMemberMetadata:
				meta := map[string]any{}
				if u := v.Value.Usage; u != nil {
					meta["usage"] = map[string]any{
						"inputTokens":  aws.ToInt32(u.InputTokens),
						"outputTokens": aws.ToInt32(u.OutputTokens),
						"totalTokens":  aws.ToInt32(u.TotalTokens),
					}
				}
				raw = map[string]any{"metadata": meta}

			default:
				r.logger.Debug("Ignoring stream event %T", ev)
				continue
			}

			if err := emit(event.Raw{"event": raw}); err != nil {
				return types.Message{}, "", nil, err
			}
		}
	}

	if err := stream.Err(); err != nil {
		return types.Message{}, "", nil, fmt.Errorf("converse stream: %w", err)
	}

	msg, inputs := assemble(blocks)
	return msg, stop, inputs, nil
}

// assemble orders the accumulated blocks into an assistant message.
func assemble(blocks map[int32]*block) (types.Message, map[string]toolInput) {
	idx := make([]int32, 0, len(blocks))
	for i := range blocks {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })

	msg := types.Message{Role: types.ConversationRoleAssistant}
	inputs := map[string]toolInput{}

	for _, i := range idx {
		b := blocks[i]
		if b.isTool {
			in := decodeInput(b.rawJSON.String())
			inputs[b.toolID] = in
			args := in.args
			if args == nil {
				args = map[string]any{}
			}
			msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(b.toolID),
				Name:      aws.String(b.name),
				Input:     document.NewLazyDocument(args),
			}})
			continue
		}
		if text := b.text.String(); text != "" {
			msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: text})
		}
	}
	return msg, inputs
}

// messageToRaw renders a message in the generic shape used by raw events.
func messageToRaw(msg types.Message) map[string]any {
	content := make([]any, 0, len(msg.Content))
	for _, c := range msg.Content {
		switch v := c.(type) {
		case *types.ContentBlockMemberText:
			content = append(content, map[string]any{"text": v.Value})
		case *types.ContentBlockMemberToolUse:
			content = append(content, map[string]any{"toolUse": map[string]any{
				"toolUseId": aws.ToString(v.Value.ToolUseId),
				"name":      aws.ToString(v.Value.Name),
			}})
		case *types.ContentBlockMemberToolResult:
			var texts []string
			for _, rc := range v.Value.Content {
				if t, ok := rc.(*types.ToolResultContentBlockMemberText); ok {
					texts = append(texts, t.Value)
				}
			}
			content = append(content, map[string]any{"toolResult": map[string]any{
				"toolUseId": aws.ToString(v.Value.ToolUseId),
				"status":    string(v.Value.Status),
				"content":   strings.Join(texts, "\n"),
			}})
		}
	}
	return map[string]any{"role": string(msg.Role), "content": content}
}
