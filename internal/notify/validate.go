package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/austindbirch/taskhook/internal/model"
)

var (
	ErrMissingField  = errors.New("name, url and events are required")
	ErrInvalidURL    = errors.New("invalid webhook URL: only HTTPS URLs to public endpoints are allowed")
	ErrInvalidEvents = errors.New("invalid event types")
)

// Guard decides whether a URL may be contacted
type Guard interface {
	Allowed(rawURL string) bool
}

// ValidateWebhook checks a subscription before it is stored. It trims the
// name and URL in place.
func ValidateWebhook(w *model.Webhook, guard Guard) error {
	w.Name = strings.TrimSpace(w.Name)
	w.URL = strings.TrimSpace(w.URL)
	if w.Name == "" || w.URL == "" || len(w.Events) == 0 {
		return ErrMissingField
	}
	if guard == nil || !guard.Allowed(w.URL) {
		return ErrInvalidURL
	}

	var unknown []string
	seen := make(map[string]bool, len(w.Events))
	events := w.Events[:0:0]
	for _, e := range w.Events {
		if !model.IsKnownEvent(e) {
			unknown = append(unknown, e)
			continue
		}
		if !seen[e] {
			seen[e] = true
			events = append(events, e)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEvents, strings.Join(unknown, ", "))
	}
	w.Events = events
	return nil
}
