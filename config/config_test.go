package config

import (
	"testing"
	"time"
)

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{URL: "postgres://u:p@db:5432/x?sslmode=disable"}
	dsn, err := p.DSN()
	if err != nil || dsn != p.URL {
		t.Fatalf("url passthrough: %q %v", dsn, err)
	}

	p = PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "intel"}
	dsn, err = p.DSN()
	if err != nil {
		t.Fatalf("unexpected dsn error: %v", err)
	}
	want := "postgres://u:p@db:5432/intel?sslmode=disable"
	if dsn != want {
		t.Fatalf("dsn = %q, want %q", dsn, want)
	}

	if _, err := (PostgresConfig{}).DSN(); err == nil {
		t.Fatal("expected error for unconfigured postgres")
	}
}

func TestDedupMinimumDate(t *testing.T) {
	min, ok, err := DedupConfig{}.MinimumDate()
	if err != nil || ok || !min.IsZero() {
		t.Fatalf("empty date: %v %v %v", min, ok, err)
	}

	min, ok, err = DedupConfig{MinimumPublishedAt: "2025-01-15"}.MinimumDate()
	if err != nil || !ok {
		t.Fatalf("valid date: %v %v", ok, err)
	}
	if min.Year() != 2025 || min.Month() != time.January || min.Day() != 15 {
		t.Fatalf("parsed date = %v", min)
	}

	if _, _, err := (DedupConfig{MinimumPublishedAt: "15/01/2025"}).MinimumDate(); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestRoutingModelFor(t *testing.T) {
	r := LLMRoutingConfig{Summary: "gpt-4o", Fallback: "gpt-4o-mini"}
	if got := r.ModelFor("summary"); got != "gpt-4o" {
		t.Fatalf("summary route = %q", got)
	}
	if got := r.ModelFor("content_quality"); got != "gpt-4o-mini" {
		t.Fatalf("fallback route = %q", got)
	}
	if got := r.ModelFor("unknown"); got != "gpt-4o-mini" {
		t.Fatalf("unknown capability route = %q", got)
	}
}

func TestRetryValidate(t *testing.T) {
	valid := RetryConfig{MaxRetries: 3, Factor: 2, CircuitThreshold: 3}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	cases := []RetryConfig{
		{MaxRetries: -1, Factor: 2, CircuitThreshold: 3},
		{MaxRetries: 3, Factor: 0.5, CircuitThreshold: 3},
		{MaxRetries: 3, Factor: 2, CircuitThreshold: 0},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestPipelineValidate(t *testing.T) {
	valid := PipelineConfig{MaxBatchSize: 50, StageWorkers: 4, QualityThreshold: 0.4, TrendGrouping: "category"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	valid.TrendGrouping = "keyword"
	if err := valid.Validate(); err != nil {
		t.Fatalf("keyword grouping rejected: %v", err)
	}

	cases := []PipelineConfig{
		{MaxBatchSize: 0, StageWorkers: 4, QualityThreshold: 0.4, TrendGrouping: "category"},
		{MaxBatchSize: 50, StageWorkers: 0, QualityThreshold: 0.4, TrendGrouping: "category"},
		{MaxBatchSize: 50, StageWorkers: 4, QualityThreshold: 1.5, TrendGrouping: "category"},
		{MaxBatchSize: 50, StageWorkers: 4, QualityThreshold: 0.4, TrendGrouping: "topic"},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
