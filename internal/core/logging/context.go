package logging

import "context"

type contextKey string

const (
	submissionIDKey contextKey = "submission_id"
	deviceKey       contextKey = "device"
)

// WithSubmissionID adds the id of the utterance being applied to the context.
func WithSubmissionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, submissionIDKey, id)
}

// WithDevice adds the origin id of the writing device to the context.
func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, deviceKey, device)
}

// GetSubmissionID retrieves the submission ID from the context.
// Returns empty string if not present.
func GetSubmissionID(ctx context.Context) string {
	if id, ok := ctx.Value(submissionIDKey).(string); ok {
		return id
	}
	return ""
}

// GetDevice retrieves the device origin from the context.
// Returns empty string if not present.
func GetDevice(ctx context.Context) string {
	if d, ok := ctx.Value(deviceKey).(string); ok {
		return d
	}
	return ""
}
