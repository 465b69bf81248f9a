package source

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBody caps how much of an upstream response is read.
const maxBody = 4 << 20

type repository struct {
	l log.Logger
	c *http.Client
}

// NewRepository initializes a new upstream repository. A zero timeout means no
// client-side timeout beyond the request context.
func NewRepository(l log.Logger, timeout time.Duration) *repository {
	return &repository{
		l: l,
		c: &http.Client{Timeout: timeout},
	}
}

func (s *repository) Fetch(ctx context.Context, url string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.c.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "requesting upstream")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, errors.Errorf("unexpected status code %d from upstream", resp.StatusCode)
	}

	var v map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&v); err != nil {
		return nil, errors.Wrap(err, "decoding upstream response")
	}
	level.Debug(s.l).Log("msg", "fetched upstream", "url", url, "http_status", resp.StatusCode)
	return v, nil
}

func (s *repository) Deliver(ctx context.Context, url string, body interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encoding body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.c.Do(req)
	if err != nil {
		return errors.Wrap(err, "posting upstream")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("unexpected status code %d from upstream", resp.StatusCode)
	}
	return nil
}

// Expand fills {name} placeholders in tmpl with query-escaped values.
func Expand(tmpl string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", url.QueryEscape(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
