package bridge

import "time"

// actionTimeouts maps command names to their deadline. Commands that
// drive rendering or page loads get generous budgets; plain state
// queries stay short. Actions not listed use the configured default.
var actionTimeouts = map[string]time.Duration{
	"navigate":      30 * time.Second,
	"reload":        30 * time.Second,
	"screenshot":    30 * time.Second,
	"capture_page":  60 * time.Second,
	"evaluate":      30 * time.Second,
	"click":         10 * time.Second,
	"type_text":     10 * time.Second,
	"get_page_text": 15 * time.Second,
	"list_tabs":     5 * time.Second,
	"get_url":       5 * time.Second,
	"activate_tab":  5 * time.Second,
	"close_tab":     5 * time.Second,
}

// Router resolves per-action command timeouts.
type Router struct {
	defaultTimeout time.Duration
}

// NewRouter creates a Router with the given fallback timeout.
func NewRouter(defaultTimeout time.Duration) *Router {
	return &Router{defaultTimeout: defaultTimeout}
}

// TimeoutFor returns the deadline budget for the given action.
func (r *Router) TimeoutFor(action string) time.Duration {
	if d, ok := actionTimeouts[action]; ok {
		return d
	}
	return r.defaultTimeout
}
