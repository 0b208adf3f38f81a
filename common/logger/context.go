package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Handlers set them once per inbound request and every downstream component
// (gate, invoker, delivery) logs with the same conversation identity.
type LogFields struct {
	ConversationKey *string // e.g. "kommo:lead:501"
	LeadID          *string // Kommo lead id
	MessageID       *string // upstream message id or Redis stream message id
	TraceID         *string // bridge trace id, echoed to the REST backend
	Channel         *string // "webhook", "salesbot", "amojo", "api"
	Component       string  // e.g. "bridge.session.gate"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.ConversationKey != nil {
		result.ConversationKey = next.ConversationKey
	}
	if next.LeadID != nil {
		result.LeadID = next.LeadID
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.TraceID != nil {
		result.TraceID = next.TraceID
	}
	if next.Channel != nil {
		result.Channel = next.Channel
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{LeadID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// Mask hides a secret for logging, keeping the first two and last four characters.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 6 {
		return "***"
	}
	return secret[:2] + "***" + secret[len(secret)-4:]
}
