package kafka

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for every message this service publishes. Field
// names follow CloudEvents attribute names.
type Event struct {
	SpecVersion     string            `json:"specversion"`
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	Source          string            `json:"source"`
	Subject         string            `json:"subject"`
	Time            time.Time         `json:"time"`
	DataContentType string            `json:"datacontenttype"`
	Data            any               `json:"data"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// NewEvent creates an event with a fresh id and the current time
func NewEvent(eventType, source, subject string, data any) *Event {
	return &Event{
		SpecVersion:     "1.0",
		ID:              uuid.NewString(),
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// WithExtension sets an extension attribute (correlation id, traceparent, ...)
func (e *Event) WithExtension(key, value string) *Event {
	if value == "" {
		return e
	}
	if e.Extensions == nil {
		e.Extensions = make(map[string]string)
	}
	e.Extensions[key] = value
	return e
}
