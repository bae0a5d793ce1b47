package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aveline-ai/recal/internal/models"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 8192
	anthropicAPIVersion       = "2023-06-01"
)

// Classification errors for generation calls. Callers use errors.Is to map
// these into their own taxonomy.
var (
	// ErrUnavailable covers transport failures and timeouts: the service
	// never produced a document.
	ErrUnavailable = errors.New("generation service unavailable")

	// ErrBadResponse covers responses that arrived but do not decode into a
	// draft.
	ErrBadResponse = errors.New("generation response malformed")
)

// AnthropicConfig holds configuration for the Anthropic generator.
type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
}

// AnthropicGenerator implements Generator using the Anthropic Messages API.
type AnthropicGenerator struct {
	config AnthropicConfig
}

// NewAnthropicGenerator creates a new Anthropic generator with the given config.
func NewAnthropicGenerator(cfg AnthropicConfig) *AnthropicGenerator {
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultAnthropicMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &AnthropicGenerator{config: cfg}
}

func (g *AnthropicGenerator) Name() string { return "anthropic" }

// anthropicRequest is the request body for the Messages API.
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the response from the Messages API.
type anthropicResponse struct {
	Content []anthropicRespItem `json:"content"`
	Error   *anthropicError     `json:"error,omitempty"`
}

type anthropicRespItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const plannerSystemPrompt = `You are a career roadmap planner. You turn a user's goal, weekly hours, and constraints into a phased multi-week plan.

Planning principles:
- Never remove completed milestones.
- Prioritize core skills over advanced topics when compressing.
- If extending the timeline, add depth and projects, not padding.
- If behind schedule, consolidate tasks rather than just pushing dates.

Respond with ONLY valid JSON matching this shape, nothing else:
{
  "total_weeks": number,
  "phases": [
    {
      "name": "string",
      "description": "string",
      "weeks": [
        {
          "number": number (continuous across all phases, starting at 1),
          "focus_skill": "string",
          "milestone": "string",
          "success_metric": "string",
          "tasks": [
            {"id": "string (unique)", "title": "string", "type": "learning|project|milestone", "week_number": number (same as the enclosing week), "due_day_offset": number (days from plan start, non-decreasing within a week)}
          ]
        }
      ]
    }
  ]
}`

// GenerateInitial produces the first plan for a user.
func (g *AnthropicGenerator) GenerateInitial(ctx context.Context, profile *models.UserProfile) (*Draft, error) {
	prompt := fmt.Sprintf(`Create a learning roadmap.

USER:
- Goal: %s
- Current level: %s
- Weekly hours: %d
- Deadline (weeks, 0 = flexible): %d
- Budget: %s
- Situation: %s

Output ONLY the JSON.`,
		profile.Goal, profile.CurrentLevel, profile.WeeklyHours, profile.DeadlineWeeks, profile.FinancialConstraint, profile.Situation)

	return g.complete(ctx, prompt)
}

// Revise produces a recalibrated plan from the revision payload.
func (g *AnthropicGenerator) Revise(ctx context.Context, req *RevisionRequest) (*Draft, error) {
	remaining, err := json.Marshal(req.RemainingTasks)
	if err != nil {
		return nil, fmt.Errorf("marshal remaining tasks: %w", err)
	}
	snapshot, err := json.Marshal(req.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	prompt := fmt.Sprintf(`Rebalance this learning roadmap.

REASON: %s

USER:
- Goal: %s
- Weekly hours: %d
- Deadline (weeks, 0 = flexible): %d

PROGRESS:
%s

REMAINING (non-completed) TASKS:
%s

Redistribute the remaining work so the plan is achievable again. Keep skill progression logic. Do not re-emit completed tasks; they are carried forward separately.

Output ONLY the JSON.`,
		req.Reason, req.Profile.Goal, req.Profile.WeeklyHours, req.Profile.DeadlineWeeks, snapshot, remaining)

	return g.complete(ctx, prompt)
}

// complete sends one Messages API call and parses the draft out of the
// response text.
func (g *AnthropicGenerator) complete(ctx context.Context, prompt string) (*Draft, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     g.config.Model,
		MaxTokens: g.config.MaxTokens,
		System:    plannerSystemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.config.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := g.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, parsed.Error.Type, parsed.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var text string
	for _, item := range parsed.Content {
		if item.Type == "text" {
			text += item.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrBadResponse)
	}

	draft, err := ParseDraft(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return draft, nil
}
