package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one identity.

type CallsSummaryRequest struct {
	Identity string    `json:"identity"`
	Range    TimeRange `json:"range"`
}

type CallsSummary struct {
	Identity string `json:"identity"`

	TotalCalls    int `json:"total_calls"`
	EndedCalls    int `json:"ended_calls"`
	FailedCalls   int `json:"failed_calls"`
	LiveCalls     int `json:"live_calls"`
	GatewayCalls  int `json:"gateway_calls"`
	RecordedCalls int `json:"recorded_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}
