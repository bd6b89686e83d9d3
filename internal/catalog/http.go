package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HTTPDoer describes the HTTP client used by the catalog clients.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrUnexpectedStatus marks non-2xx catalog responses.
var ErrUnexpectedStatus = errors.New("catalog: unexpected status")

// errNoResults is returned for ENCODE's 404-on-empty-search convention.
var errNoResults = errors.New("catalog: no results")

func getJSON(ctx context.Context, client HTTPDoer, endpoint string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return errNoResults
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, endpoint)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// oneOf decodes a JSON value that the portals emit either as an object, an
// array of objects (first one wins), or a bare reference string (ignored).
type oneOf[T any] struct {
	Value T
	OK    bool
}

func (o *oneOf[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '{':
		if err := json.Unmarshal(trimmed, &o.Value); err != nil {
			return err
		}
		o.OK = true
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		for _, item := range items {
			item = bytes.TrimSpace(item)
			if len(item) == 0 || item[0] != '{' {
				continue
			}
			if err := json.Unmarshal(item, &o.Value); err != nil {
				return err
			}
			o.OK = true
			break
		}
	}
	return nil
}

// titled decodes either {"display_title": "..."} or a plain string.
type titled string

func (t *titled) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*t = titled(s)
		return nil
	}
	if trimmed[0] == '{' {
		var obj struct {
			DisplayTitle string `json:"display_title"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		*t = titled(obj.DisplayTitle)
	}
	return nil
}

// idRef decodes either "/files/ENCFF.../" or {"@id": "/files/ENCFF.../"}.
type idRef string

func (r *idRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*r = idRef(s)
		return nil
	}
	if trimmed[0] == '{' {
		var obj struct {
			ID string `json:"@id"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		*r = idRef(obj.ID)
	}
	return nil
}

// size decodes file sizes that may arrive as integers or floats.
type size int64

func (s *size) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil
	}
	*s = size(f)
	return nil
}
