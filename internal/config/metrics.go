package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// loadCounter is lazy: config loads before the otel runtime, so the
// counter binds to whatever meter provider is global at first use.
var loadCounter = sync.OnceValue(func() metric.Int64Counter {
	counter, err := otel.Meter("community-auth-backend").Int64Counter("config.load.outcomes")
	if err != nil {
		return nil
	}
	return counter
})

// recordConfigLoad counts startup config loads by profile and failure
// reason so a crash-looping deployment shows up in metrics.
func recordConfigLoad(ctx context.Context, profile string, err error) {
	counter := loadCounter()
	if counter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profileLabel(profile)),
		attribute.String("outcome", outcome),
		attribute.String("reason", loadFailureReason(err)),
	))
}

// profileLabel keeps the profile attribute a bounded lowercase token.
func profileLabel(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "unknown"
	}
	return v
}

func loadFailureReason(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "validate config:"):
		return "validation"
	case strings.Contains(msg, "parse "):
		return "parse"
	default:
		return "load"
	}
}
