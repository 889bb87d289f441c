package logging

import (
	"context"
	"testing"
)

func TestWithSubmissionID(t *testing.T) {
	ctx := WithSubmissionID(context.Background(), "sub-123")

	if got := GetSubmissionID(ctx); got != "sub-123" {
		t.Errorf("GetSubmissionID() = %q, want %q", got, "sub-123")
	}
}

func TestWithDevice(t *testing.T) {
	ctx := WithDevice(context.Background(), "laptop")

	if got := GetDevice(ctx); got != "laptop" {
		t.Errorf("GetDevice() = %q, want %q", got, "laptop")
	}
}

func TestContextValues_NotPresent(t *testing.T) {
	ctx := context.Background()

	if got := GetSubmissionID(ctx); got != "" {
		t.Errorf("GetSubmissionID() = %q, want empty string", got)
	}
	if got := GetDevice(ctx); got != "" {
		t.Errorf("GetDevice() = %q, want empty string", got)
	}
}
