package i18nerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type typedError struct {
	code int
}

func (e *typedError) Error() string {
	return fmt.Sprintf("code %d", e.code)
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("outer: %w", &typedError{code: 8002})
	err := Wrapf(inner, "Failed to log in as %s", "user")
	if got := err.Error(); got != "Failed to log in as user with cause: code 8002" {
		t.Fatalf("got message: %q", got)
	}
	var te *typedError
	if !errors.As(err, &te) || te.code != 8002 {
		t.Fatalf("the cause is not reachable through the wrapped error")
	}
	if err.Internal || err.Canceled {
		t.Fatalf("unexpected flags: %+v", err)
	}
	if tr := err.Translations(); tr["en"] != err.Error() {
		t.Fatalf("got translations: %v", tr)
	}
}

func TestTranslatedInner(t *testing.T) {
	cases := []struct {
		err      error
		want     string
		canceled bool
	}{
		{err: fmt.Errorf("probe: %w", context.DeadlineExceeded), want: "timeout reached"},
		{err: fmt.Errorf("stopped: %w", context.Canceled), want: "context canceled", canceled: true},
		{err: errors.New("plain"), want: "plain"},
	}
	for _, c := range cases {
		got, canceled := TranslatedInner(c.err)
		if got != c.want || canceled != c.canceled {
			t.Fatalf("TranslatedInner(%v) = %q, %v, want: %q, %v", c.err, got, canceled, c.want, c.canceled)
		}
	}
}

func TestInternal(t *testing.T) {
	err := WrapInternal(errors.New("boom"), "The connection could not be removed")
	if !err.Internal {
		t.Fatalf("internal flag not set")
	}
	if got := NewInternal("no connection").Error(); got != "no connection" {
		t.Fatalf("got message: %q", got)
	}
	if got := Newf("Server %s was not found", "CH#9").Error(); got != "Server CH#9 was not found" {
		t.Fatalf("got message: %q", got)
	}
}

func TestExplainf(t *testing.T) {
	inner := fmt.Errorf("lookup: %w", &typedError{code: 404})
	err := Explainf(inner, "Server '%s' was not found", "NL#99")
	if got := err.Error(); got != "Server 'NL#99' was not found" {
		t.Fatalf("got message: %q", got)
	}
	var te *typedError
	if !errors.As(err, &te) || te.code != 404 {
		t.Fatalf("the cause is not reachable through the explained error")
	}
	if c := Explainf(fmt.Errorf("login: %w", context.Canceled), "Aborted"); !c.Canceled {
		t.Fatalf("a canceled cause did not set the flag")
	}
}
