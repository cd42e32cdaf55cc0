// Package accounting implements usage tracking, cost derivation and budget
// evaluation.
//
// DESIGN: Raw token counts are the only stored state. They are bucketed per
// provider (all time), per UTC day and per UTC month, and every period bucket
// keeps a per-provider split. Cost is always derived from those counts and the
// current per-1K price rates, so changing a rate re-prices all history.
package accounting

import (
	"fmt"
	"time"

	"github.com/compresr/llm-gateway/internal/tasks"
)

// Window selects a budget period.
type Window string

const (
	Daily   Window = "daily"
	Monthly Window = "monthly"
)

// ParseWindow validates a window name.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case Daily, Monthly:
		return Window(s), nil
	}
	return "", fmt.Errorf("unknown budget window %q (want daily or monthly)", s)
}

// PriceRate is a provider's price per 1,000 tokens.
type PriceRate struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// Validate rejects negative prices.
func (r PriceRate) Validate() error {
	if r.InputPer1K < 0 || r.OutputPer1K < 0 {
		return fmt.Errorf("price rate must be >= 0, got input=%f output=%f", r.InputPer1K, r.OutputPer1K)
	}
	return nil
}

// Budget holds the spend limits. A zero limit means unlimited.
type Budget struct {
	Daily            float64 `json:"daily"`
	Monthly          float64 `json:"monthly"`
	DailyThreshold   float64 `json:"daily_threshold"`
	MonthlyThreshold float64 `json:"monthly_threshold"`
}

// CallRecord is one billable call.
type CallRecord struct {
	Provider     string         `json:"provider"`
	Task         tasks.TaskType `json:"task_type,omitempty"`
	InputTokens  int64          `json:"input_tokens"`
	OutputTokens int64          `json:"output_tokens"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Usage is a token tally plus its derived cost.
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Calls        int64   `json:"calls"`
	Cost         float64 `json:"cost"`
}

// PeriodUsage is a day or month bucket with its per-provider split.
type PeriodUsage struct {
	Usage
	ByProvider map[string]Usage `json:"by_provider"`
}

// WindowStatus is the budget evaluation for one window.
type WindowStatus struct {
	Cost       float64 `json:"cost"`
	Budget     float64 `json:"budget"`
	Threshold  float64 `json:"threshold"`
	Percentage float64 `json:"percentage"`
	Exceeded   bool    `json:"exceeded"`
	Warning    bool    `json:"warning"`
}

// BudgetStatus evaluates both windows at one instant.
type BudgetStatus struct {
	Daily   WindowStatus `json:"daily"`
	Monthly WindowStatus `json:"monthly"`
}

// CallResult is returned by LogCall.
type CallResult struct {
	Cost   float64      `json:"cost"`
	Status BudgetStatus `json:"budget"`
}

// Summary is a full usage report.
type Summary struct {
	Providers map[string]Usage       `json:"providers"`
	Days      map[string]PeriodUsage `json:"days"`
	Months    map[string]PeriodUsage `json:"months"`
	Rates     map[string]PriceRate   `json:"rates"`
	Budget    Budget                 `json:"budget"`
	Status    BudgetStatus           `json:"status"`
}
