package model

import (
	"strings"
	"testing"
)

// validRecord returns a Record that passes all validation rules.
func validRecord() Record {
	return Record{
		GroupID:    "g-1",
		RequestID:  "req-1",
		MessageID:  "m-1",
		Sender:     "u-1",
		SyncStatus: StatusLogged,
	}
}

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidateRecord_Valid(t *testing.T) {
	r := validRecord()
	if err := ValidateRecord(&r); err != nil {
		t.Fatalf("ValidateRecord: unexpected error: %v", err)
	}
}

func TestValidateRecord_Nil(t *testing.T) {
	errs := fieldErrors(t, ValidateRecord(nil))
	if !hasFieldError(errs, "record") {
		t.Errorf("expected error on 'record', got %v", errs)
	}
}

func TestValidateRecord_Fields(t *testing.T) {
	for _, tc := range []struct {
		name  string
		mut   func(r *Record)
		field string
	}{
		{"missing group", func(r *Record) { r.GroupID = "" }, "group_id"},
		{"blank group", func(r *Record) { r.GroupID = "  " }, "group_id"},
		{"missing request", func(r *Record) { r.RequestID = "" }, "request_id"},
		{"blank request", func(r *Record) { r.RequestID = "\t" }, "request_id"},
		{"bad status", func(r *Record) { r.SyncStatus = 7 }, "sync_status"},
		{"long url", func(r *Record) { r.URL = "https://x/" + strings.Repeat("a", 2048) }, "url"},
		{"long message id", func(r *Record) { r.MessageID = strings.Repeat("m", 257) }, "message_id"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := validRecord()
			tc.mut(&r)
			errs := fieldErrors(t, ValidateRecord(&r))
			if !hasFieldError(errs, tc.field) {
				t.Errorf("expected error on %q, got %v", tc.field, errs)
			}
		})
	}
}

func TestValidateRecord_MultipleErrors(t *testing.T) {
	r := Record{SyncStatus: 9}
	errs := fieldErrors(t, ValidateRecord(&r))
	for _, f := range []string{"group_id", "request_id", "sync_status"} {
		if !hasFieldError(errs, f) {
			t.Errorf("expected error on %q", f)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	ve := &ValidationError{Errors: []FieldError{
		{Field: "group_id", Message: "is required"},
		{Field: "request_id", Message: "is required"},
	}}
	want := "validation failed: group_id: is required; request_id: is required"
	if got := ve.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
