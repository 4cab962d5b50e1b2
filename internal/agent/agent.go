package agent

import (
	"context"

	"github.com/intelbrief/intelbrief/models"
)

// Input carries the subject of one analysis. Quality and summary agents
// read Item; trend synthesis reads Group; alert prioritization reads
// Alert plus optional trend context.
type Input struct {
	Item         *models.Item
	Group        *models.TrendGroup
	Alert        *models.Alert
	TrendContext string
	Summary      string
}

// Result is the raw output of one agent variant.
type Result struct {
	Payload      map[string]interface{}
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	ModelUsed    string
}

// Agent is one analysis capability variant. Heuristic variants never
// perform network I/O and never fail; AI-backed variants may do both.
type Agent interface {
	Type() models.AgentType
	RequiresNetwork() bool
	Analyze(ctx context.Context, in Input) (Result, error)
}
