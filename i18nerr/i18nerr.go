// Package i18nerr implements user facing errors with internationalization using gotext
package i18nerr

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/protonvpn/protonvpn-nm-core/internal/log"
)

var (
	printers sync.Map
	once     sync.Once
)

// TranslatedInner returns the message of the innermost cause of inner
// Timeouts and cancellations are common enough to get their own translated text
// The bool is true when the cause is a cancellation, which the user asked for
func TranslatedInner(inner error) (string, bool) {
	unwrapped := inner
	for errors.Unwrap(unwrapped) != nil {
		unwrapped = errors.Unwrap(unwrapped)
	}

	switch {
	case errors.Is(inner, context.DeadlineExceeded):
		return printerOrNew(language.English).Sprintf("timeout reached"), false
	case errors.Is(inner, context.Canceled):
		return unwrapped.Error(), true
	}
	return unwrapped.Error(), false
}

// Error wraps an actual error with the translation key
// This translation key is later used to lookup translation
type Error struct {
	key     message.Reference
	args    []interface{}
	wrapped *Error
	cause   error
	// Canceled is set when the cause was a cancellation
	Canceled bool
	// Internal marks an error that is not expected to happen, its text is not translated
	Internal bool
}

func (e *Error) translated(t language.Tag) string {
	once.Do(initializeLangs)
	msg := printerOrNew(t).Sprintf(e.key, e.args...)
	if e.wrapped != nil {
		return msg + " " + printerOrNew(t).Sprintf("with cause:") + " " + e.wrapped.Error()
	}
	return msg
}

// Error gets the English error string
func (e *Error) Error() string {
	return e.translated(language.English)
}

// Translations returns all the translations for the error including the source translation (english)
func (e *Error) Translations() map[string]string {
	translations := make(map[string]string)
	source := e.Error()
	translations[language.English.String()] = source
	for _, t := range message.DefaultCatalog.Languages() {
		if t == language.English {
			continue
		}
		// only add the tag if it differs from english
		f := e.translated(t)
		if f != source {
			translations[t.String()] = f
		}
	}
	return translations
}

// Unwrap returns the original cause so that callers can still match typed errors
func (e *Error) Unwrap() error {
	return e.cause
}

// printerOrNew gets a message printer from the global printers map using the tag 'tag'
// If the printer cannot be found in the sync map, we return a new printer
func printerOrNew(tag language.Tag) *message.Printer {
	v, ok := printers.Load(tag)
	if !ok {
		return message.NewPrinter(tag)
	}
	p, ok := v.(*message.Printer)
	if !ok {
		log.Logger.Debugf("i18n: could not load printer with tag: '%v' as the type is not correct: '%T'", tag, v)
		return message.NewPrinter(tag)
	}
	return p
}

// New creates a new i18n error using a message reference
func New(key message.Reference) *Error {
	return &Error{key: key}
}

// Newf creates a new i18n error using a message reference and arguments
func Newf(key message.Reference, args ...interface{}) *Error {
	return &Error{key: key, args: args}
}

// Wrap creates a new i18n error using an error to be wrapped 'err' and a prefix message reference 'key'
func Wrap(err error, key message.Reference) *Error {
	return Wrapf(err, key)
}

// Wrapf creates a new i18n error using an error to be wrapped 'err' and a prefix message reference 'key' with format arguments 'args'
func Wrapf(err error, key message.Reference, args ...interface{}) *Error {
	t, canceled := TranslatedInner(err)
	return &Error{key: key, args: args, wrapped: &Error{key: t, Canceled: canceled}, cause: err, Canceled: canceled}
}

// Explainf creates a new i18n error that replaces the text of 'err' with the message reference 'key'
// The cause is not printed but can still be matched with errors.Is and errors.As
func Explainf(err error, key message.Reference, args ...interface{}) *Error {
	_, canceled := TranslatedInner(err)
	return &Error{key: key, args: args, cause: err, Canceled: canceled}
}

// NewInternal creates an error for a situation the user cannot resolve
func NewInternal(msg string) *Error {
	return &Error{key: msg, Internal: true}
}

// WrapInternal is Wrap for an internal error
func WrapInternal(err error, msg string) *Error {
	e := Wrap(err, msg)
	e.Internal = true
	return e
}

// WrapInternalf is Wrapf for an internal error
func WrapInternalf(err error, msg string, args ...interface{}) *Error {
	e := Wrapf(err, msg, args...)
	e.Internal = true
	return e
}

// initializeLangs initializes the printers from the default catalog into the sync map
// we cannot do this in init() because this is too early
func initializeLangs() {
	log.Logger.Debugf("i18n: initializing languages...")
	for _, t := range message.DefaultCatalog.Languages() {
		printers.Store(t, message.NewPrinter(t))
	}
}
