package ai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
)

// GenerationError marks a failed or empty code-generation call. The
// verification pipeline retries it within the Stage-1 attempt budget.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ReviewResult is the code-review collaborator's verdict on a generated
// rule document.
type ReviewResult struct {
	Passed     bool   `json:"passed"`
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion"`
}

// Client talks to the DeepSeek API through the OpenAI-compatible surface.
type Client struct {
	client *openai.Client
	model  string
	cfg    *config.Config
	logger *logger.Logger
}

func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	ocfg := openai.DefaultConfig(cfg.DeepSeek.APIKey)
	ocfg.BaseURL = "https://api.deepseek.com/v1"

	return &Client{
		client: openai.NewClientWithConfig(ocfg),
		model:  cfg.DeepSeek.Model,
		cfg:    cfg,
		logger: log,
	}
}

func (c *Client) chat(ctx context.Context, system, user string, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DeepSeekTimeout())
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("deepseek API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("deepseek returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Generate turns a strategy prompt into a rule document.
func (c *Client) Generate(ctx context.Context, prompt, direction string) (string, error) {
	c.logger.Info("generating rule document", "prompt_len", len(prompt), "direction", direction)

	out, err := c.chat(ctx, generatorSystemPrompt, BuildGeneratorPrompt(prompt, direction), 0.2)
	if err != nil {
		return "", &GenerationError{Op: "generate", Err: err}
	}
	if len(out) == 0 {
		return "", &GenerationError{Op: "generate", Err: fmt.Errorf("empty response")}
	}
	return out, nil
}

// Repair asks for a corrected rule document given a review or simulation
// failure reason.
func (c *Client) Repair(ctx context.Context, doc, prompt, reason string) (string, error) {
	c.logger.Info("repairing rule document", "reason_len", len(reason))

	out, err := c.chat(ctx, generatorSystemPrompt, BuildRepairPrompt(doc, prompt, reason), 0.2)
	if err != nil {
		return "", &GenerationError{Op: "repair", Err: err}
	}
	if len(out) == 0 {
		return "", &GenerationError{Op: "repair", Err: fmt.Errorf("empty response")}
	}
	return out, nil
}

// Review checks a rule document against the user's described intent.
func (c *Client) Review(ctx context.Context, doc, prompt string) (ReviewResult, error) {
	out, err := c.chat(ctx, reviewerSystemPrompt, BuildReviewPrompt(doc, prompt), 0.3)
	if err != nil {
		return ReviewResult{}, &GenerationError{Op: "review", Err: err}
	}

	result, err := ParseReviewResult(out)
	if err != nil {
		return ReviewResult{}, &GenerationError{Op: "review", Err: err}
	}

	c.logger.Debug("review result", "passed", result.Passed, "reason", result.Reason)
	return result, nil
}
