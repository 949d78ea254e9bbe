package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/scansplit/internal/events"
	"github.com/JonMunkholm/scansplit/internal/export"
	"github.com/JonMunkholm/scansplit/internal/history"
	"github.com/JonMunkholm/scansplit/internal/indexer"
	"github.com/JonMunkholm/scansplit/internal/session"
	"github.com/JonMunkholm/scansplit/internal/upload"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"session not found", session.ErrNotFound, "SES001"},
		{"event log session not found", events.ErrSessionNotFound, "SES001"},
		{"no uploads", ErrNoUploads, "SES002"},
		{"run in progress", ErrRunInProgress, "EXP006"},
		{"upload not found", upload.ErrUploadNotFound, "UPL001"},
		{"invalid upload id", upload.ErrInvalidUpload, "UPL002"},
		{"file too large", fmt.Errorf("%w: 10 bytes (max 5)", upload.ErrFileTooLarge), "UPL003"},
		{"invalid size", upload.ErrInvalidSize, "UPL004"},
		{"missing range", upload.ErrMissingRange, "RNG001"},
		{"bad range", fmt.Errorf("%w: %q", upload.ErrBadRange, "bytes x"), "RNG002"},
		{"size mismatch", upload.ErrSizeMismatch, "RNG003"},
		{"chunk length", upload.ErrChunkLength, "RNG004"},
		{"chunk too large", upload.ErrChunkTooLarge, "RNG005"},
		{"no results", export.ErrNoResults, "EXP001"},
		{"bulk failed", fmt.Errorf("t1_normal: %w: status 401", indexer.ErrBulkFailed), "EXP002"},
		{"indexing disabled", ErrIndexingDisabled, "EXP003"},
		{"publishing disabled", export.ErrPublishDisabled, "EXP004"},
		{"history disabled", history.ErrDisabled, "EXP005"},
		{"cancelled", context.Canceled, "REQ001"},
		{"deadline", context.DeadlineExceeded, "REQ002"},
		{"busy", ErrTooManyRuns, "REQ003"},
		{"rate limited", errors.New("rate limit exceeded"), "REQ005"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
		{"case insensitive matching", errors.New("SESSION NOT FOUND"), "SES001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err); got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(session.ErrNotFound)
	want := "Session not found (Code: SES001). Create a new session and upload the reports again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", upload.ErrChunkLength, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	if got := NewUserError(nil); got != nil {
		t.Errorf("NewUserError(nil) = %v, want nil", got)
	}

	userErr := NewUserError(upload.ErrUploadNotFound)
	if userErr.Error() != "Upload not found" {
		t.Errorf("Error() = %q, want user message", userErr.Error())
	}
	if !errors.Is(userErr, upload.ErrUploadNotFound) {
		t.Error("Unwrap() should return original error")
	}
}
