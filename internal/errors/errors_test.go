package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("underlying error")

	err := New(ConfigurationError, "nav-1234.js has no selector", cause)

	if err.Code != ConfigurationError {
		t.Errorf("Code = %v, want %v", err.Code, ConfigurationError)
	}
	if err.Message != "nav-1234.js has no selector" {
		t.Errorf("Message = %q", err.Message)
	}
	if len(err.SuggestedFixes) != 1 {
		t.Errorf("len(SuggestedFixes) = %d, want 1", len(err.SuggestedFixes))
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      AnalysisFailed,
			message:   "re-bundle of nav.js failed",
			cause:     errors.New("unexpected token"),
			wantParts: []string{"ANALYSIS_FAILED", "re-bundle of nav.js failed", "unexpected token"},
		},
		{
			name:      "without cause",
			code:      PruneFailed,
			message:   "cannot remove old.js",
			wantParts: []string{"PRUNE_FAILED", "cannot remove old.js"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.code, tt.message, tt.cause).Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(InternalError, "something went wrong", cause)

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if New(LoadFailed, "x", nil).Unwrap() != nil {
		t.Error("Unwrap() on error without cause should return nil")
	}
}

func TestIsCode(t *testing.T) {
	inner := New(ConfigurationError, "missing selector", nil)
	outer := New(AnalysisFailed, "analysis", inner)
	wrapped := fmt.Errorf("build: %w", outer)

	if !IsCode(wrapped, AnalysisFailed) {
		t.Error("IsCode should find the outer code through fmt wrapping")
	}
	if !IsCode(wrapped, ConfigurationError) {
		t.Error("IsCode should find a nested code")
	}
	if IsCode(wrapped, PruneFailed) {
		t.Error("IsCode reported a code that is not in the chain")
	}
	if IsCode(errors.New("plain"), InternalError) {
		t.Error("plain errors carry no code")
	}
	if CodeOf(wrapped) != AnalysisFailed {
		t.Errorf("CodeOf = %v", CodeOf(wrapped))
	}
	if CodeOf(errors.New("plain")) != InternalError {
		t.Error("CodeOf plain error should be INTERNAL_ERROR")
	}
}

func TestSuggestedFixesAreCopies(t *testing.T) {
	err := New(ConfigInvalid, "bad index", nil)
	err.WithFix(FixAction{Type: OpenDocs, URL: "https://example.com"})

	if len(GetSuggestedFixes(ConfigInvalid)) != 1 {
		t.Error("WithFix must not mutate the shared ErrorActions table")
	}
	if GetSuggestedFixes(LoadFailed) != nil {
		t.Error("LOAD_FAILED has no default fixes")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ConfigInvalid, "bad index", nil).WithDetails([]string{"a", "b"})
	details, ok := err.Details.([]string)
	if !ok || len(details) != 2 {
		t.Errorf("Details = %#v", err.Details)
	}
}

func TestIsCodeAggregated(t *testing.T) {
	joined := errors.Join(
		New(AnalysisFailed, "nav.js", nil),
		fmt.Errorf("tabs.js: %w", New(ConfigurationError, "missing selector", nil)),
	)

	if !IsCode(joined, ConfigurationError) {
		t.Error("IsCode should search every aggregated error")
	}
	if !IsCode(joined, AnalysisFailed) {
		t.Error("IsCode should find the first aggregated code")
	}
	if IsCode(joined, DuplicateSelector) {
		t.Error("IsCode reported a code that is not aggregated")
	}
}
