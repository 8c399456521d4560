package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// converser is the subset of the Bedrock runtime client used here.
type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock performs text generation via the Bedrock Converse API.
type Bedrock struct {
	client      converser
	model       string
	maxTokens   int
	temperature float64
}

// NewBedrock creates a Bedrock model using the default AWS credential chain.
// An empty region defers to the chain's region resolution.
func NewBedrock(ctx context.Context, region, model string, maxTokens int, temperature float64) (*Bedrock, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Bedrock{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}, nil
}

// Invoke sends one Converse request and concatenates the text blocks of the reply.
func (b *Bedrock) Invoke(ctx context.Context, p Prompt) (string, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: p.User}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(b.temperature)),
		},
	}
	if maxTokens > 0 {
		input.InferenceConfig.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if p.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: p.System}}
	}

	out, err := b.client.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("bedrock converse: %w", err)
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("unexpected bedrock output %T", out.Output)
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(t.Value)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text content in response")
	}
	return sb.String(), nil
}
