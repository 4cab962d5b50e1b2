package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/intelbrief/intelbrief/config"
	"github.com/intelbrief/intelbrief/internal/provider"
	"github.com/intelbrief/intelbrief/models"
)

// aiAgent is the AI-backed variant of one capability. It issues a single
// backend call per Analyze; retries and circuit handling live in the
// registry's controller, not here.
type aiAgent struct {
	agentType models.AgentType
	llm       provider.LLMProvider
	model     string
	prompt    func(in Input) string
}

func (a *aiAgent) Type() models.AgentType { return a.agentType }
func (a *aiAgent) RequiresNetwork() bool  { return true }

func (a *aiAgent) Analyze(ctx context.Context, in Input) (Result, error) {
	completion, err := a.llm.Complete(ctx, a.prompt(in), a.model)
	if err != nil {
		return Result{}, err
	}

	payload, err := parseJSONPayload(completion.Text)
	if err != nil {
		return Result{}, &provider.AgentCallError{Kind: provider.Transient, Err: err}
	}
	payload["method"] = "llm"
	payload["model"] = a.model

	return Result{
		Payload:      payload,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		Cost:         a.llm.CalculateCost(completion.InputTokens, completion.OutputTokens, a.model),
		ModelUsed:    a.model,
	}, nil
}

// parseJSONPayload extracts the first JSON object from a model response,
// tolerating surrounding prose or markdown fences.
func parseJSONPayload(text string) (map[string]interface{}, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model response")
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	return payload, nil
}

// NewAIAgents constructs the AI-backed variant for every capability the
// routing config names a model for.
func NewAIAgents(cfg config.LLMConfig, llm provider.LLMProvider) map[models.AgentType]Agent {
	out := make(map[models.AgentType]Agent)
	if llm == nil {
		return out
	}
	for _, agentType := range models.AllAgentTypes {
		model := cfg.Routing.ModelFor(string(agentType))
		if model == "" {
			continue
		}
		out[agentType] = &aiAgent{
			agentType: agentType,
			llm:       llm,
			model:     model,
			prompt:    promptBuilders[agentType],
		}
	}
	return out
}

var promptBuilders = map[models.AgentType]func(in Input) string{
	models.AgentContentQuality: func(in Input) string {
		return fmt.Sprintf(`Score the quality of this content from 0.0 to 1.0.
Consider depth, clarity, sourcing and completeness.
Respond with JSON only: {"quality_score": <float>, "factors": [<strings>]}

Title: %s
Author: %s
Content: %s`, in.Item.Title, in.Item.Author, truncate(in.Item.RawContent, 4000))
	},
	models.AgentSummary: func(in Input) string {
		return fmt.Sprintf(`Summarize this content in at most three sentences.
Respond with JSON only: {"summary": <string>}

Title: %s
Content: %s`, in.Item.Title, truncate(in.Item.RawContent, 6000))
	},
	models.AgentTrendSynthesis: func(in Input) string {
		var b strings.Builder
		fmt.Fprintf(&b, `Synthesize what these %d items from the %s category say together.
Respond with JSON only: {"analysis": <string>, "insights": [<strings>], "significance": "low"|"medium"|"high"}

`, len(in.Group.Items), in.Group.Category)
		for i, it := range in.Group.Items {
			fmt.Fprintf(&b, "%d. %s\n", i+1, it.Title)
		}
		return b.String()
	},
	models.AgentAlertPrioritization: func(in Input) string {
		return fmt.Sprintf(`Decide the priority of this alert given its summary and trend context.
Respond with JSON only: {"priority_score": <float 0..1>, "recommended_priority": "low"|"medium"|"high"|"critical", "reasoning": <string>}

Alert: %s
Message: %s
Summary: %s
Trend context: %s`, in.Alert.Title, in.Alert.Message, in.Summary, in.TrendContext)
	},
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
