package test

import "testing"

// AssertError fails t when the message of err is not wantErr, an empty wantErr means no error
func AssertError(t *testing.T, err error, wantErr string) {
	t.Helper()
	got := ""
	if err != nil {
		got = err.Error()
	}
	if got == wantErr {
		return
	}
	if wantErr == "" {
		t.Fatalf("unexpected error: %q", got)
	}
	if err == nil {
		t.Fatalf("no error, want: %q", wantErr)
	}
	t.Fatalf("error message differs, got: %q, want: %q", got, wantErr)
}
