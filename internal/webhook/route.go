package webhook

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Wildcard matches any source or event type.
const Wildcard = "*"

var allowedMethods = []any{"GET", "POST", "PUT", "DELETE"}

type RouteConfig struct {
	Source    string `json:"source"`
	EventType string `json:"eventType"`
	Target    string `json:"target"`
	Endpoint  string `json:"endpoint"`
	Method    string `json:"method"`
}

func (c RouteConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Source, validation.Required),
		validation.Field(&c.EventType, validation.Required),
		validation.Field(&c.Target, validation.Required),
		validation.Field(&c.Endpoint, validation.Required),
		validation.Field(&c.Method, validation.Required, validation.In(allowedMethods...)),
	)
}

func (c RouteConfig) normalized() RouteConfig {
	c.Source = strings.TrimSpace(c.Source)
	c.EventType = strings.TrimSpace(c.EventType)
	c.Target = strings.TrimSpace(c.Target)
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
	return c
}

type Route struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	EventType string    `json:"eventType"`
	Target    string    `json:"target"`
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Matches reports whether r should receive ev. Both patterns must match
// and the route must be active.
func (r Route) Matches(ev Event) bool {
	return r.Active &&
		(r.Source == Wildcard || r.Source == ev.Source) &&
		(r.EventType == Wildcard || r.EventType == ev.EventType)
}
