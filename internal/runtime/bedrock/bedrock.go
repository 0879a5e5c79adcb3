// Package bedrock runs the agent on Amazon Bedrock's ConverseStream API with
// a client-side tool-use loop.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/giantswarm/agent-relay/internal/event"
	"github.com/giantswarm/agent-relay/internal/logging"
	"github.com/giantswarm/agent-relay/internal/runtime"
	"github.com/giantswarm/agent-relay/internal/tools"
)

const (
	DefaultModelID  = "jp.anthropic.claude-haiku-4-5-20251001-v1:0"
	DefaultRegion   = "ap-northeast-1"
	DefaultMaxTurns = 10

	// StopReasonMaxTurns is reported when the loop gives up while the model
	// still wants to call tools.
	StopReasonMaxTurns = "max_turns"
)

// Options configures the runtime.
type Options struct {
	ModelID     string
	Region      string
	MaxTurns    int
	MaxTokens   int
	Temperature float64
	Logger      *logging.Logger
}

// streamReader is the event stream of one ConverseStream call.
type streamReader interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

// streamer opens ConverseStream calls.
type streamer interface {
	open(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (streamReader, error)
}

type sdkStreamer struct {
	client *bedrockruntime.Client
}

func (s sdkStreamer) open(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (streamReader, error) {
	out, err := s.client.ConverseStream(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.GetStream(), nil
}

// Runtime implements runtime.Runtime on Bedrock.
type Runtime struct {
	streamer streamer
	opts     Options
	logger   *logging.Logger
}

var _ runtime.Runtime = (*Runtime)(nil)

// New loads the default AWS configuration and creates a runtime.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	opts = withDefaults(opts)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return newRuntime(sdkStreamer{client: bedrockruntime.NewFromConfig(awsCfg)}, opts), nil
}

func newRuntime(s streamer, opts Options) *Runtime {
	opts = withDefaults(opts)
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runtime{streamer: s, opts: opts, logger: logger}
}

func withDefaults(opts Options) Options {
	if opts.ModelID == "" {
		opts.ModelID = DefaultModelID
	}
	if opts.Region == "" {
		opts.Region = DefaultRegion
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	return opts
}

// Stream runs the conversation until the model stops asking for tools or
// the turn limit is reached, then emits a terminal result event.
func (r *Runtime) Stream(ctx context.Context, req runtime.Request, emit func(event.Raw) error) error {
	messages := []types.Message{{
		Role:    types.ConversationRoleUser,
		Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Prompt}},
	}}

	var (
		last types.Message
		stop string
	)
	for turn := 1; ; turn++ {
		in := r.input(req, messages)

		msg, reason, inputs, err := r.turn(ctx, in, emit)
		if err != nil {
			return err
		}
		messages = append(messages, msg)
		last, stop = msg, string(reason)

		if reason != types.StopReasonToolUse {
			break
		}
		if turn >= r.opts.MaxTurns {
			r.logger.Warning("Agent still requested tools after %d turns, stopping", turn)
			stop = StopReasonMaxTurns
			break
		}

		results := r.runTools(ctx, req.Tools, msg, inputs)
		if err := ctx.Err(); err != nil {
			return err
		}
		messages = append(messages, results)
		if err := emit(event.Raw{"message": messageToRaw(results)}); err != nil {
			return err
		}
	}

	return emit(event.Raw{"result": map[string]any{
		"stop_reason": stop,
		"message":     messageToRaw(last),
	}})
}

func (r *Runtime) input(req runtime.Request, messages []types.Message) *bedrockruntime.ConverseStreamInput {
	in := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(r.opts.ModelID),
		Messages: messages,
	}
	if req.SystemPrompt != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.SystemPrompt}}
	}
	if r.opts.MaxTokens > 0 || r.opts.Temperature > 0 {
		ic := &types.InferenceConfiguration{}
		if r.opts.MaxTokens > 0 {
			ic.MaxTokens = aws.Int32(int32(r.opts.MaxTokens))
		}
		if r.opts.Temperature > 0 {
			ic.Temperature = aws.Float32(float32(r.opts.Temperature))
		}
		in.InferenceConfig = ic
	}
	if tc := toolConfig(req.Tools); tc != nil {
		in.ToolConfig = tc
	}
	return in
}

func toolConfig(set *tools.Set) *types.ToolConfiguration {
	if set.Len() == 0 {
		return nil
	}
	specs := make([]types.Tool, 0, set.Len())
	for _, t := range set.Tools() {
		desc := t.Description()
		if desc == "" {
			desc = t.Name()
		}
		specs = append(specs, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(t.Name()),
			Description: aws.String(desc),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(t.InputSchema())},
		}})
	}
	return &types.ToolConfiguration{Tools: specs}
}

// runTools executes every tool use in msg and returns the user message
// carrying the results. Tool failures become error results.
func (r *Runtime) runTools(ctx context.Context, set *tools.Set, msg types.Message, inputs map[string]toolInput) types.Message {
	results := types.Message{Role: types.ConversationRoleUser}

	for _, block := range msg.Content {
		use, ok := block.(*types.ContentBlockMemberToolUse)
		if !ok {
			continue
		}
		id := aws.ToString(use.Value.ToolUseId)
		name := aws.ToString(use.Value.Name)

		status := types.ToolResultStatusSuccess
		text, err := r.callTool(ctx, set, name, inputs[id])
		if err != nil {
			r.logger.Warning("Tool %s failed: %v", name, err)
			status = types.ToolResultStatusError
			text = err.Error()
		}
		if text == "" {
			text = "(no output)"
		}

		results.Content = append(results.Content, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
			ToolUseId: aws.String(id),
			Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: text}},
			Status:    status,
		}})
	}
	return results
}

func (r *Runtime) callTool(ctx context.Context, set *tools.Set, name string, input toolInput) (string, error) {
	if input.err != nil {
		return "", fmt.Errorf("decode tool input: %w", input.err)
	}
	args := input.args
	if args == nil {
		args = map[string]any{}
	}

	r.logger.Info("Calling tool %s", name)
	out, err := set.Call(ctx, name, args)
	if err != nil {
		if errors.Is(err, tools.ErrUnknownTool) {
			return "", fmt.Errorf("tool %q is not available", name)
		}
		return "", err
	}
	return out, nil
}

// toolInput is the decoded input of one streamed tool use.
type toolInput struct {
	args map[string]any
	err  error
}

func decodeInput(raw string) toolInput {
	args := map[string]any{}
	if raw == "" {
		return toolInput{args: args}
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return toolInput{err: err}
	}
	return toolInput{args: args}
}
