package envelope

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// wireVersion is bumped whenever the stored layout changes. Entries written
// with another version decode as an error, which the cache treats as a miss.
const wireVersion = 1

type wireEnvelope struct {
	V            int       `json:"v"`
	Headers      []Header  `json:"h,omitempty"`
	Body         []byte    `json:"b,omitempty"`
	Status       int       `json:"s"`
	CreatedAt    time.Time `json:"c"`
	AnalyticsTag string    `json:"t,omitempty"`
}

// Marshal encodes e for byte-oriented cache backends.
func Marshal(e *Envelope) ([]byte, error) {
	return json.Marshal(wireEnvelope{
		V:            wireVersion,
		Headers:      e.headers,
		Body:         e.body,
		Status:       e.status,
		CreatedAt:    e.createdAt,
		AnalyticsTag: e.analyticsTag,
	})
}

// Unmarshal decodes an envelope produced by Marshal.
func Unmarshal(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if w.V != wireVersion {
		return nil, fmt.Errorf("decode envelope: unsupported version %d", w.V)
	}
	if w.Status == 0 {
		w.Status = http.StatusOK
	}
	return &Envelope{
		headers:      w.Headers,
		body:         w.Body,
		status:       w.Status,
		createdAt:    w.CreatedAt,
		analyticsTag: w.AnalyticsTag,
	}, nil
}
