package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CategoryEngine, "TEST_CODE", "something happened")

	if err.Category != CategoryEngine {
		t.Errorf("Category = %q", err.Category)
	}
	if err.Code != "TEST_CODE" {
		t.Errorf("Code = %q", err.Code)
	}
	if got := err.Error(); got != "[engine:TEST_CODE] something happened" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("underlying failure")
	err := Wrap(cause, CategoryStore, "QUERY_FAILED", "query failed")

	if err.Unwrap() != cause {
		t.Error("Unwrap did not return the cause")
	}
	if !strings.Contains(err.Error(), "underlying failure") {
		t.Errorf("Error() = %q, should include cause", err.Error())
	}
}

func TestWithContext(t *testing.T) {
	err := New(CategoryValidation, "INVALID_INPUT", "bad input").
		WithContext("field", "timeframe").
		WithContext("value", 42)

	ctx := GetErrorContext(err)
	if ctx["field"] != "timeframe" {
		t.Errorf("field = %v", ctx["field"])
	}
	if ctx["value"] != 42 {
		t.Errorf("value = %v", ctx["value"])
	}
}

func TestIsCategory(t *testing.T) {
	err := New(CategorySpotify, "UPSTREAM_STATUS", "bad status")

	if !IsCategory(err, CategorySpotify) {
		t.Error("IsCategory should match")
	}
	if IsCategory(err, CategoryStore) {
		t.Error("IsCategory should not match a different category")
	}
	if IsCategory(fmt.Errorf("plain"), CategorySpotify) {
		t.Error("plain errors have no category")
	}
	if IsCategory(nil, CategorySpotify) {
		t.Error("nil has no category")
	}
}

func TestIsNotConnected(t *testing.T) {
	if !IsNotConnected(ErrNotConnected) {
		t.Error("ErrNotConnected should report as not-connected")
	}
	if IsNotConnected(ErrTokenRefresh) {
		t.Error("a refresh failure is not a missing link")
	}
	if IsNotConnected(fmt.Errorf("plain")) {
		t.Error("plain errors are not not-connected")
	}
}

func TestGetErrorCode(t *testing.T) {
	if got := GetErrorCode(ErrInvalidTimeframe); got != "INVALID_TIMEFRAME" {
		t.Errorf("code = %q", got)
	}
	if got := GetErrorCode(fmt.Errorf("plain")); got != "" {
		t.Errorf("code = %q, want empty for plain error", got)
	}
}
