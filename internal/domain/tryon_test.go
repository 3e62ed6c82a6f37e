package domain

import "testing"

func TestAggregateStatus(t *testing.T) {
	rows := func(statuses ...string) []*TryOnResult {
		out := make([]*TryOnResult, len(statuses))
		for i, s := range statuses {
			out[i] = &TryOnResult{Status: s}
		}
		return out
	}

	tests := []struct {
		name    string
		results []*TryOnResult
		want    string
	}{
		{name: "no rows is pending", results: nil, want: ResultPending},
		{name: "single created is pending", results: rows(ResultCreated), want: ResultPending},
		{name: "single running is pending", results: rows(ResultRunning), want: ResultPending},
		{name: "any success wins", results: rows(ResultFailed, ResultSuccess), want: ResultSuccess},
		{name: "success beats pending", results: rows(ResultRunning, ResultSuccess), want: ResultSuccess},
		{name: "all failed is failed", results: rows(ResultFailed, ResultFailed), want: ResultFailed},
		{name: "partial failure stays pending", results: rows(ResultFailed, ResultRunning), want: ResultPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AggregateStatus(tt.results); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTerminalResultStatus(t *testing.T) {
	terminal := map[string]bool{
		ResultSuccess: true,
		ResultFailed:  true,
		ResultCreated: false,
		ResultRunning: false,
		ResultPending: false,
	}
	for status, want := range terminal {
		if got := TerminalResultStatus(status); got != want {
			t.Fatalf("TerminalResultStatus(%s) = %v, want %v", status, got, want)
		}
	}
}
