package service

import (
	"testing"

	"github.com/fitroom/backend/pkg/tryonvendor"
)

func TestPollOutcome(t *testing.T) {
	results := func(statuses ...string) []tryonvendor.Result {
		out := make([]tryonvendor.Result, len(statuses))
		for i, s := range statuses {
			out[i] = tryonvendor.Result{ResultID: "r", Status: s}
		}
		return out
	}

	tests := []struct {
		name        string
		list        []tryonvendor.Result
		wantDone    bool
		wantSuccess bool
	}{
		{name: "all pending keeps polling", list: results("PENDING", "PENDING"), wantDone: false},
		{name: "running keeps polling", list: results("RUNNING"), wantDone: false},
		{name: "any success ends the job", list: results("FAILED", "SUCCESS"), wantDone: true, wantSuccess: true},
		{name: "all failed ends the job", list: results("FAILED", "FAILED"), wantDone: true},
		{name: "partial failure keeps polling", list: results("FAILED", "PENDING"), wantDone: false},
		{name: "empty list keeps polling", list: nil, wantDone: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			success, _, done := pollOutcome(tt.list)
			if done != tt.wantDone {
				t.Fatalf("expected done=%v, got %v", tt.wantDone, done)
			}
			if (success != nil) != tt.wantSuccess {
				t.Fatalf("expected success=%v, got %+v", tt.wantSuccess, success)
			}
		})
	}
}

func TestPollOutcomeCarriesFailureMessage(t *testing.T) {
	list := []tryonvendor.Result{
		{ResultID: "r1", Status: "FAILED", ErrorMsg: "garment not detected"},
	}
	success, failure, done := pollOutcome(list)
	if success != nil || !done {
		t.Fatalf("expected a terminal failure, got success=%+v done=%v", success, done)
	}
	if failure != "garment not detected" {
		t.Fatalf("expected vendor error message, got %q", failure)
	}

	list[0].ErrorMsg = ""
	_, failure, _ = pollOutcome(list)
	if failure != "generation failed" {
		t.Fatalf("expected fallback message, got %q", failure)
	}
}

func TestFormatFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "https://cdn.example.com/model.png", want: "png"},
		{url: "https://cdn.example.com/model.JPG", want: "jpg"},
		{url: "https://cdn.example.com/a/b/garment.jpeg", want: "jpeg"},
		{url: "https://cdn.example.com/photo.webp", want: "webp"},
		{url: "https://cdn.example.com/no-extension", want: "png"},
		{url: "https://cdn.example.com/strange.heic", want: "png"},
	}
	for _, tt := range tests {
		if got := formatFromURL(tt.url); got != tt.want {
			t.Fatalf("formatFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
