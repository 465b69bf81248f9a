package source

import (
	"context"
)

// Repository is an interface for an upstream JSON API
type Repository interface {
	// Fetch GETs url and decodes the JSON object it returns.
	Fetch(ctx context.Context, url string) (map[string]interface{}, error)
	// Deliver POSTs body to url as JSON.
	Deliver(ctx context.Context, url string, body interface{}) error
}
