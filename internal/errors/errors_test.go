package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeConflict, "version mismatch")
	err := Wrap(CodeConflict, stdErrors.New("rows affected 0"), "claim order")
	if !stdErrors.Is(err, sentinel) {
		t.Fatalf("expected wrapped error to match sentinel by code")
	}
	if stdErrors.Is(err, New(CodeValidation, "")) {
		t.Fatalf("codes differ, expected no match")
	}
}

func TestHasCodeThroughFmtWrap(t *testing.T) {
	base := New(CodeAlreadyResolved, "reward request resolved")
	err := fmt.Errorf("approve: %w", base)
	if !HasCode(err, CodeAlreadyResolved) {
		t.Fatalf("expected HasCode to find code through fmt wrap")
	}
	if CodeOf(err) != CodeAlreadyResolved {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
}

func TestAttributesDefaultsAndOverrides(t *testing.T) {
	err := New(CodeStorageFailure, "")
	if err.Message() != "storage failure" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if !err.Retryable() || !err.ShouldAlert() || err.Severity() != SeverityCritical {
		t.Fatalf("unexpected default attributes")
	}
	err = New(CodeStorageFailure, "", WithRetryable(false), WithAlert(false), WithSeverity(SeverityInfo))
	if err.Retryable() || err.ShouldAlert() || err.Severity() != SeverityInfo {
		t.Fatalf("overrides not applied")
	}
}

func TestErrorStringIncludesMetadata(t *testing.T) {
	err := New(CodeValidation, "reason too short", WithMetadata("min", "5"), WithMetadata("field", "reason"))
	want := "[VALIDATION] reason too short (field=reason, min=5)"
	if err.Error() != want {
		t.Fatalf("got %q want %q", err.Error(), want)
	}
	md := err.Metadata()
	md["min"] = "6"
	if err.Metadata()["min"] != "5" {
		t.Fatalf("metadata must be copied")
	}
}

func TestUnregisteredCodeFallsBackToUnknown(t *testing.T) {
	attr := AttributesOf(Code("NOPE"))
	if attr.Message != "unknown error" {
		t.Fatalf("unexpected fallback: %+v", attr)
	}
}
