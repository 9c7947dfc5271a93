package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"meeting-intelligence/internal/config"
	pkgerrors "meeting-intelligence/pkg/errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/bedrockruntime"
)

// Client is the generative-language boundary. Callers must tolerate non-JSON
// or truncated text and recover with ExtractJSONObject.
type Client interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

type BedrockClient struct {
	svc *bedrockruntime.BedrockRuntime
	cfg config.BedrockConfig
}

func NewBedrockClient(cfg *config.Config) (*BedrockClient, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Bedrock.Region)})
	if err != nil {
		return nil, err
	}
	return &BedrockClient{
		svc: bedrockruntime.New(sess),
		cfg: cfg.Bedrock,
	}, nil
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Completion string `json:"completion"`
}

func (c *BedrockClient) Invoke(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        c.cfg.MaxTokens,
		Temperature:      c.cfg.Temperature,
		Messages:         []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	out, err := c.svc.InvokeModelWithContext(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.cfg.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", classify(err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("unexpected model response format: %w", err)
	}
	if len(resp.Content) > 0 {
		return resp.Content[0].Text, nil
	}
	if resp.Completion != "" {
		return resp.Completion, nil
	}
	return "", pkgerrors.ErrInvalidResponse
}

func classify(err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case bedrockruntime.ErrCodeThrottlingException:
			return pkgerrors.NewThrottled("llm", err)
		case bedrockruntime.ErrCodeAccessDeniedException, bedrockruntime.ErrCodeValidationException:
			return pkgerrors.NewRejected("llm", err)
		case bedrockruntime.ErrCodeModelTimeoutException:
			return pkgerrors.NewTimeout("llm", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.NewTimeout("llm", err)
	}
	return pkgerrors.NewUnavailable("llm", err)
}
