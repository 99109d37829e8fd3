package federation

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Logger is the logging contract used across the package. Messages are
// followed by key/value pairs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// Provider identifies an upstream identity provider.
type Provider string

const (
	// ProviderLlaveMX is the Mexican government digital identity provider.
	ProviderLlaveMX Provider = "llavemx"
)

func (p Provider) String() string {
	return string(p)
}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderLlaveMX:
		return true
	}
	return false
}

// ParseProvider normalizes a provider name.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	if !p.Valid() {
		return "", ErrProviderMismatch.Clone().WithMetadata(map[string]any{
			"provider": name,
		})
	}
	return p, nil
}

// defLogger writes "[LVL] FEDERATION msg key=value ..." lines to out,
// stdout when nil.
type defLogger struct {
	out io.Writer
}

func (d defLogger) Error(msg string, args ...any) { d.write("ERR", msg, args) }
func (d defLogger) Warn(msg string, args ...any)  { d.write("WRN", msg, args) }
func (d defLogger) Info(msg string, args ...any)  { d.write("INF", msg, args) }
func (d defLogger) Debug(msg string, args ...any) { d.write("DBG", msg, args) }

func (d defLogger) write(level, msg string, args []any) {
	out := d.out
	if out == nil {
		out = os.Stdout
	}

	var b strings.Builder
	b.WriteString("[" + level + "] FEDERATION ")
	b.WriteString(strings.TrimRight(msg, "\n"))
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			b.WriteString(" !EXTRA=" + logValue(args[i]))
			break
		}
		b.WriteString(" " + fmt.Sprint(args[i]) + "=" + logValue(args[i+1]))
	}
	b.WriteByte('\n')
	_, _ = io.WriteString(out, b.String())
}

func logValue(v any) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return noopLogger{}
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
