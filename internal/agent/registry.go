package agent

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/intelbrief/intelbrief/config"
	"github.com/intelbrief/intelbrief/internal/provider"
	"github.com/intelbrief/intelbrief/internal/retry"
	"github.com/intelbrief/intelbrief/models"
)

// Registry holds both variants of every capability and decides per call
// which one runs. Analyze never returns an error to the caller: the
// heuristic variant guarantees some result for every requested capability.
type Registry struct {
	logger      *log.Logger
	ai          map[models.AgentType]Agent
	heuristics  map[models.AgentType]Agent
	controllers map[models.AgentType]*retry.Controller
}

// NewRegistry wires the agent set. A nil LLM provider (no credential)
// leaves every capability on its heuristic variant.
func NewRegistry(cfg *config.Config, llm provider.LLMProvider, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENTS] ", log.LstdFlags)
	}

	heuristics := map[models.AgentType]Agent{
		models.AgentContentQuality:      QualityHeuristic{},
		models.AgentSummary:             SummaryHeuristic{},
		models.AgentTrendSynthesis:      TrendHeuristic{},
		models.AgentAlertPrioritization: AlertHeuristic{},
	}

	controllers := make(map[models.AgentType]*retry.Controller)
	for _, agentType := range models.AllAgentTypes {
		controllers[agentType] = retry.NewController(string(agentType), cfg.Retry, logger)
	}

	return &Registry{
		logger:      logger,
		ai:          NewAIAgents(cfg.LLM, llm),
		heuristics:  heuristics,
		controllers: controllers,
	}
}

// Analyze runs one capability against one input and always produces a
// committed-shape AnalysisResult. Selection: the AI-backed variant when it
// exists and its breaker admits the call, the heuristic variant otherwise.
// The breaker half-opens itself after the cooldown, so a recovered backend
// is picked up again without outside intervention. AI failures after
// exhausted retries degrade to the heuristic result with the failure
// recorded on it.
func (r *Registry) Analyze(ctx context.Context, agentType models.AgentType, in Input) models.AnalysisResult {
	start := time.Now()
	res := models.AnalysisResult{
		AgentType: agentType,
		CreatedAt: start.UTC(),
	}
	if in.Item != nil {
		res.ItemID = in.Item.ID
	}

	aiVariant, hasAI := r.ai[agentType]
	ctrl := r.controllers[agentType]

	if hasAI {
		var out Result
		err := ctrl.Do(ctx, func(callCtx context.Context) error {
			var callErr error
			out, callErr = aiVariant.Analyze(callCtx, in)
			return callErr
		})
		if err == nil {
			res.Success = true
			res.Payload = out.Payload
			tokens := out.InputTokens + out.OutputTokens
			res.TokenUsage = &tokens
			cost := out.Cost
			res.CostEstimate = &cost
			res.ProcessingTimeMs = time.Since(start).Milliseconds()
			return res
		}
		if !errors.Is(err, retry.ErrCircuitOpen) {
			// exhausted or permanent: fall back, but surface the failure
			r.logger.Printf("%s: AI-backed call failed, using fallback: %v", agentType, err)
			out, _ := r.heuristics[agentType].Analyze(ctx, in)
			res.Success = false
			res.UsedFallback = true
			res.Payload = out.Payload
			res.ErrorMessage = err.Error()
			res.ProcessingTimeMs = time.Since(start).Milliseconds()
			return res
		}
		// circuit still open: clean heuristic selection, no error surfaced
	}

	out, _ := r.heuristics[agentType].Analyze(ctx, in)
	res.Success = true
	res.UsedFallback = true
	res.Payload = out.Payload
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	return res
}

// CircuitStates exposes per-agent circuit state for the operator surface.
func (r *Registry) CircuitStates() map[models.AgentType]string {
	out := make(map[models.AgentType]string, len(r.controllers))
	for agentType, ctrl := range r.controllers {
		out[agentType] = ctrl.CircuitState().String()
	}
	return out
}

// HasAIVariant reports whether a capability has an AI-backed variant wired.
func (r *Registry) HasAIVariant(agentType models.AgentType) bool {
	_, ok := r.ai[agentType]
	return ok
}
