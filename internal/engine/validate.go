package engine

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/lazypower/hypermem/internal/store"
)

// Content size limits.
const (
	maxSummaryChars = 4096
	maxEntityName   = 512
	maxEntities     = 32
)

var validate = validator.New()

// normalizeInput trims and validates a memory before it reaches the store.
// Importance is clamped to ceiling so urgency starts inside its range.
func normalizeInput(in store.HyperedgeInput, ceiling float64) (store.HyperedgeInput, error) {
	in.Summary = strings.TrimSpace(in.Summary)
	in.Content = strings.TrimSpace(in.Content)
	if ceiling > 0 && in.Importance > ceiling {
		in.Importance = ceiling
	}
	for i := range in.Members {
		m := &in.Members[i]
		m.Key = strings.TrimSpace(m.Key)
		m.Name = strings.TrimSpace(m.Name)
		m.Type = strings.ToLower(strings.TrimSpace(m.Type))
	}

	if err := validate.Struct(in); err != nil {
		return in, fmt.Errorf("%w: %s", ErrInvalidInput, formatValidationError(err))
	}
	return in, nil
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Namespace())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, e.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

// truncateClean truncates a string to at most maxLen bytes, cutting at the
// last word boundary to avoid mid-word breaks. Never splits a rune.
func truncateClean(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}

	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	truncated := s[:cut]
	// Back up to last space
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > cut/2 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
