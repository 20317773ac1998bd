package engine

import (
	"time"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/strategies"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Busy reports whether a start must be rejected.
func (s Status) Busy() bool {
	return s == StatusStarting || s == StatusRunning || s == StatusStopping
}

// State is a copy of the engine's status. Counters and ErrorMessage reset on
// every start.
type State struct {
	Status         Status                 `json:"status"`
	StrategyID     string                 `json:"strategy_id"`
	StrategyName   string                 `json:"strategy_name"`
	Symbol         string                 `json:"symbol"`
	Timeframe      string                 `json:"timeframe"`
	InstType       string                 `json:"inst_type"`
	StartTime      *time.Time             `json:"start_time"`
	LastSignalTime *time.Time             `json:"last_signal_time"`
	LastSignalType string                 `json:"last_signal_type"`
	SignalCount    int                    `json:"total_signals"`
	OrderCount     int                    `json:"total_orders"`
	SuccessCount   int                    `json:"successful_orders"`
	FailureCount   int                    `json:"failed_orders"`
	ErrorMessage   string                 `json:"error_message"`
	PollSeconds    float64                `json:"check_interval"`
	Position       *types.PositionView    `json:"position,omitempty"`
	Grid           *strategies.GridStatus `json:"grid,omitempty"`
}
