package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/intelbrief/intelbrief/models"
)

// QualityHeuristic scores content quality from length, readability and
// metadata completeness. Pure function of the item.
type QualityHeuristic struct{}

func (QualityHeuristic) Type() models.AgentType { return models.AgentContentQuality }
func (QualityHeuristic) RequiresNetwork() bool  { return false }

func (QualityHeuristic) Analyze(ctx context.Context, in Input) (Result, error) {
	it := in.Item
	score := 0.3
	var factors []string

	if n := len(it.Title); n >= 20 && n <= 100 {
		score += 0.15
		factors = append(factors, "good_title_length")
	}
	if len(it.RawContent) > 500 {
		score += 0.2
		factors = append(factors, "sufficient_content")
	}
	if avg := avgSentenceWords(it.RawContent); avg >= 10 && avg <= 25 {
		score += 0.1
		factors = append(factors, "good_readability")
	}
	if it.Author != "" {
		score += 0.1
		factors = append(factors, "has_author")
	}
	if it.PublishedAt != nil {
		score += 0.1
		factors = append(factors, "has_date")
	}
	if score > 1.0 {
		score = 1.0
	}

	return Result{Payload: map[string]interface{}{
		"quality_score": score,
		"method":        "heuristic",
		"factors":       factors,
		"metrics": map[string]interface{}{
			"title_length":        len(it.Title),
			"content_length":      len(it.RawContent),
			"estimated_read_time": len(it.RawContent) / 200,
		},
	}}, nil
}

// SummaryHeuristic produces an extractive summary: first and last
// sentence, capped at 300 characters.
type SummaryHeuristic struct{}

func (SummaryHeuristic) Type() models.AgentType { return models.AgentSummary }
func (SummaryHeuristic) RequiresNetwork() bool  { return false }

func (SummaryHeuristic) Analyze(ctx context.Context, in Input) (Result, error) {
	it := in.Item
	content := it.RawContent
	if strings.TrimSpace(content) == "" {
		return Result{Payload: map[string]interface{}{
			"summary": it.Title,
			"method":  "title_only",
		}}, nil
	}

	sentences := splitSentences(content)
	var summary string
	if len(sentences) <= 3 {
		summary = content
	} else {
		summary = sentences[0] + ". " + sentences[len(sentences)-1]
	}
	if len(summary) > 300 {
		summary = summary[:297] + "..."
	}

	compression := 0.0
	if len(content) > 0 {
		compression = float64(len(summary)) / float64(len(content))
	}
	return Result{Payload: map[string]interface{}{
		"summary":           summary,
		"method":            "extractive",
		"original_length":   len(content),
		"summary_length":    len(summary),
		"compression_ratio": compression,
	}}, nil
}

// TrendHeuristic groups items by category and surfaces keyword-frequency
// insights without any model call.
type TrendHeuristic struct{}

func (TrendHeuristic) Type() models.AgentType { return models.AgentTrendSynthesis }
func (TrendHeuristic) RequiresNetwork() bool  { return false }

func (TrendHeuristic) Analyze(ctx context.Context, in Input) (Result, error) {
	group := in.Group
	var insights []string
	if len(group.Items) > 1 {
		insights = append(insights, fmt.Sprintf("Multiple items trending in %s category", group.Category))
	}

	keywords := TopKeywords(group.Items, 5)
	if len(keywords) > 0 {
		insights = append(insights, fmt.Sprintf("Top topic in %s: %s", group.Category, keywords[0]))
	}

	analysis := fmt.Sprintf("%d items collected in %s within the window", len(group.Items), group.Category)
	if len(keywords) > 0 {
		analysis += "; recurring topics: " + strings.Join(keywords, ", ")
	}

	return Result{Payload: map[string]interface{}{
		"analysis":     analysis,
		"method":       "frequency_grouping",
		"category":     string(group.Category),
		"total_items":  len(group.Items),
		"top_keywords": keywords,
		"insights":     insights,
		"significance": significance(len(group.Items)),
	}}, nil
}

// AlertHeuristic ranks alerts by keyword, type and recency rules.
type AlertHeuristic struct{}

func (AlertHeuristic) Type() models.AgentType { return models.AgentAlertPrioritization }
func (AlertHeuristic) RequiresNetwork() bool  { return false }

var criticalKeywords = []string{"breaking", "urgent", "critical", "emergency", "alert", "warning"}

var alertTypeBonus = map[string]float64{
	"breaking_news":  0.5,
	"trend_spike":    0.3,
	"trend_analysis": 0.2,
	"system_error":   0.1,
}

func (AlertHeuristic) Analyze(ctx context.Context, in Input) (Result, error) {
	a := in.Alert
	message := strings.ToLower(a.Message)
	title := strings.ToLower(a.Title)

	score := 0.3
	var factors []string
	for _, kw := range criticalKeywords {
		if strings.Contains(message, kw) || strings.Contains(title, kw) {
			score += 0.2
			factors = append(factors, "critical_keyword_"+kw)
		}
	}
	if bonus, ok := alertTypeBonus[a.AlertType]; ok {
		score += bonus
		factors = append(factors, "alert_type_"+a.AlertType)
	}
	if !a.CreatedAt.IsZero() && time.Since(a.CreatedAt) < time.Hour {
		score += 0.1
		factors = append(factors, "time_sensitive")
	}
	if score > 1.0 {
		score = 1.0
	}

	return Result{Payload: map[string]interface{}{
		"priority_score":       score,
		"method":               "rule_based",
		"factors":              factors,
		"recommended_priority": RecommendedPriority(score),
	}}, nil
}

// RecommendedPriority maps a priority score to a display level.
func RecommendedPriority(score float64) string {
	switch {
	case score > 0.7:
		return models.AlertPriorityHigh
	case score > 0.4:
		return models.AlertPriorityMedium
	default:
		return models.AlertPriorityLow
	}
}

// TopKeywords ranks words across item titles by frequency, ignoring stop
// words and short tokens. Shared with the keyword trend-grouping policy.
func TopKeywords(items []models.Item, n int) []string {
	freq := make(map[string]int)
	for _, it := range items {
		for _, w := range strings.Fields(strings.ToLower(it.Title)) {
			w = strings.Trim(w, ".,;:!?\"'()[]")
			if len(w) < 4 || stopWords[w] {
				continue
			}
			freq[w]++
		}
	}
	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

var stopWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"will": true, "about": true, "their": true, "what": true, "when": true,
	"where": true, "which": true, "after": true, "more": true, "than": true,
	"says": true, "over": true, "into": true, "your": true, "been": true,
}

func significance(itemCount int) string {
	switch {
	case itemCount >= 5:
		return "high"
	case itemCount >= 2:
		return "medium"
	default:
		return "low"
	}
}

func splitSentences(content string) []string {
	parts := strings.Split(content, ". ")
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}

func avgSentenceWords(content string) float64 {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return 0
	}
	total := 0
	for _, s := range sentences {
		total += len(strings.Fields(s))
	}
	return float64(total) / float64(len(sentences))
}
