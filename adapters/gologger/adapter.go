package gologger

import (
	"context"
	"fmt"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-ticketmail/core"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the ticketmail logger and hands go-job redacting
// bridges of the same logger.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	redactingProvider := NewRedactingProvider(resolvedProvider)
	redactingLogger := NewRedactingLogger(resolvedLogger)
	return redactingProvider, redactingLogger, ToJobProvider(redactingProvider), ToJobLogger(redactingLogger)
}

// NewRedactingLogger masks values logged under sensitive keys such as
// access_token or client_secret. Wrapping twice is a no-op.
func NewRedactingLogger(logger glog.Logger) glog.Logger {
	if logger == nil {
		return nil
	}
	if _, ok := logger.(*redactingLogger); ok {
		return logger
	}
	return &redactingLogger{next: logger}
}

func NewRedactingProvider(provider glog.LoggerProvider) glog.LoggerProvider {
	if provider == nil {
		return nil
	}
	return redactingProvider{next: provider}
}

type redactingProvider struct {
	next glog.LoggerProvider
}

func (p redactingProvider) GetLogger(name string) glog.Logger {
	return NewRedactingLogger(p.next.GetLogger(name))
}

type redactingLogger struct {
	next glog.Logger
}

func (l *redactingLogger) Trace(msg string, args ...any) { l.next.Trace(msg, RedactArgs(args)...) }
func (l *redactingLogger) Debug(msg string, args ...any) { l.next.Debug(msg, RedactArgs(args)...) }
func (l *redactingLogger) Info(msg string, args ...any)  { l.next.Info(msg, RedactArgs(args)...) }
func (l *redactingLogger) Warn(msg string, args ...any)  { l.next.Warn(msg, RedactArgs(args)...) }
func (l *redactingLogger) Error(msg string, args ...any) { l.next.Error(msg, RedactArgs(args)...) }
func (l *redactingLogger) Fatal(msg string, args ...any) { l.next.Fatal(msg, RedactArgs(args)...) }

func (l *redactingLogger) WithContext(ctx context.Context) glog.Logger {
	return NewRedactingLogger(l.next.WithContext(ctx))
}

// RedactArgs returns a copy of key/value args with sensitive values masked.
// Map values are redacted recursively; a trailing odd arg is kept as is.
func RedactArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}
	out := make([]any, len(args))
	copy(out, args)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok {
			key = fmt.Sprint(out[i])
		}
		masked := core.RedactSensitiveMap(map[string]any{key: out[i+1]})
		out[i+1] = masked[key]
	}
	return out
}
