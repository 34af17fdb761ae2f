package academy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound matches 404 responses from the backend.
var ErrNotFound = errors.New("academy: not found")

// StatusError carries a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("academy: %s %s: %d %s", e.Method, e.Path, e.Status, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// TokenSource supplies the bearer credential for upstream calls. An empty
// token means the request goes out without Authorization.
type TokenSource interface {
	Token() string
}

// Client calls the academy REST backend.
type Client struct {
	BaseURL          string
	HTTP             *http.Client
	Tokens           TokenSource
	SkipNgrokWarning bool

	log *zap.Logger
}

// New creates a client with the given request timeout.
func New(baseURL string, timeout time.Duration, tokens TokenSource, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL: baseURL,
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: timeout},
		log:     log.Named("academy"),
	}
}

// GetAll returns the raw collection payload for entity.
func (c *Client) GetAll(ctx context.Context, entity Entity) (json.RawMessage, error) {
	if err := entity.check(); err != nil {
		return nil, err
	}
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/"+string(entity), nil, &out)
	return out, err
}

// GetByID returns the raw payload for one entity.
func (c *Client) GetByID(ctx context.Context, entity Entity, id int64) (json.RawMessage, error) {
	if err := entity.check(); err != nil {
		return nil, err
	}
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/"+string(entity)+"/"+itoa(id), nil, &out)
	return out, err
}

// Create stores a new entity. payload is either a *Form or a JSON-encodable value.
func (c *Client) Create(ctx context.Context, entity Entity, payload any) (json.RawMessage, error) {
	if err := entity.check(); err != nil {
		return nil, err
	}
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/"+string(entity)+"/store", payload, &out)
	return out, err
}

// Update modifies an entity. Recitations that carry both course and lesson
// are addressed by that pair instead of by id.
func (c *Client) Update(ctx context.Context, entity Entity, id int64, payload any) (json.RawMessage, error) {
	if err := entity.check(); err != nil {
		return nil, err
	}
	path := "/" + string(entity) + "/update/" + itoa(id)
	if entity == Recitations {
		if r, ok := recitationOf(payload); ok && r.CourseID != 0 && r.LessonID != 0 {
			path = "/recitation/update/" + itoa(r.CourseID) + "/" + itoa(r.LessonID)
		}
	}
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, path, payload, &out)
	return out, err
}

// Delete removes an entity.
func (c *Client) Delete(ctx context.Context, entity Entity, id int64) error {
	if err := entity.check(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/"+string(entity)+"/delete/"+itoa(id), nil, nil)
}

func recitationOf(payload any) (Recitation, bool) {
	switch r := payload.(type) {
	case Recitation:
		return r, true
	case *Recitation:
		if r != nil {
			return *r, true
		}
	}
	return Recitation{}, false
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	body, contentType, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("academy: encode %s %s: %w", method, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("academy: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.SkipNgrokWarning {
		req.Header.Set("ngrok-skip-browser-warning", "true")
	}
	if c.Tokens != nil {
		if tok := c.Tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		observe(method, "error", start)
		return fmt.Errorf("academy: %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()
	observe(method, strconv.Itoa(resp.StatusCode), start)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("academy: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Debug("upstream error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("academy: decode %s %s: %w", method, path, err)
	}
	return nil
}

func encodePayload(payload any) (io.Reader, string, error) {
	switch p := payload.(type) {
	case nil:
		return nil, "", nil
	case *Form:
		return p.encode()
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(b), "application/json", nil
	}
}

// decodeList accepts either a bare JSON array or an object wrapping the array
// under key, which is how the backend answers depending on the endpoint.
func decodeList[T any](raw json.RawMessage, key string) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []T
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	inner, ok := wrapper[key]
	if !ok || string(inner) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(inner, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func itoa(i int64) string { return strconv.FormatInt(i, 10) }
