package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a slog logger configured at the provided level. Development
// environments get human readable text output, everything else JSON. If the
// level string is invalid it defaults to info.
func New(level string, development bool) *slog.Logger {
	return NewWithWriter(os.Stdout, level, development)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string, development bool) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if development {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// MaskContact hides all but the last four characters of a phone number or the
// domain of an email address so contacts can be logged.
func MaskContact(contact string) string {
	for i := 0; i < len(contact); i++ {
		if contact[i] == '@' {
			if i == 0 {
				return contact
			}
			return contact[:1] + "***" + contact[i:]
		}
	}
	if len(contact) <= 4 {
		return "****"
	}
	return "******" + contact[len(contact)-4:]
}
