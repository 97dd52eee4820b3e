package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/scriptorium-dev/palimpsest/annotation"
)

// Registrar receives decoded annotations as soon as a query returns
// them, so attached-but-not-yet-merged annotations are visible to a
// later expansion without another round trip. entity.Registry
// satisfies it.
type Registrar = annotation.Registry

// HTTPOptions configures an HTTPStore.
type HTTPOptions struct {
	// QueryURL is the annotation store's query endpoint.
	QueryURL string

	// Client is the HTTP client to use; defaults to one with a 30s
	// timeout.
	Client *http.Client

	// Registrar, when set, gets every decoded annotation registered
	// against its targets.
	Registrar Registrar

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// HTTPStore implements Store over the annotation store's JSON-over-HTTP
// protocol.
type HTTPStore struct {
	queryURL  string
	client    *http.Client
	registrar Registrar
	logger    *slog.Logger
}

// NewHTTPStore creates a store client for the given query endpoint.
func NewHTTPStore(opts HTTPOptions) (*HTTPStore, error) {
	if opts.QueryURL == "" {
		return nil, fmt.Errorf("store: query URL is required")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &HTTPStore{
		queryURL:  opts.QueryURL,
		client:    opts.Client,
		registrar: opts.Registrar,
		logger:    opts.Logger,
	}, nil
}

// FetchResource GETs the document at the identifier URI.
func (s *HTTPStore) FetchResource(ctx context.Context, id string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, id, nil)
	if err != nil {
		return nil, fmt.Errorf("store: build fetch request for %s: %w", id, err)
	}
	req.Header.Set("Accept", "application/json, application/ld+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store: fetch %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Code: resp.StatusCode, URL: id}
		s.logger.Warn("resource fetch failed",
			slog.String("identifier", id),
			slog.Int("status", resp.StatusCode),
			slog.String("class", statusErr.Class()),
		)
		return nil, statusErr
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", id, err)
	}
	return doc, nil
}

// QueryAnnotations POSTs the structured query and decodes the matching
// records. Malformed records are skipped with a warning; a transport
// or status failure wraps ErrQueryFailed so callers can degrade while
// logs stay distinguishable from an empty result.
func (s *HTTPStore) QueryAnnotations(ctx context.Context, q Query) ([]*annotation.Annotation, error) {
	body, err := json.Marshal(queryDocument(q))
	if err != nil {
		return nil, fmt.Errorf("%w: encode query: %v", ErrQueryFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.queryURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrQueryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrQueryFailed, s.queryURL, resp.StatusCode)
	}

	var records []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrQueryFailed, err)
	}

	annos := make([]*annotation.Annotation, 0, len(records))
	for _, record := range records {
		a, err := annotation.FromRecord(record)
		if err != nil {
			s.logger.Warn("skipping malformed annotation record",
				slog.String("error", err.Error()),
			)
			continue
		}
		if s.registrar != nil {
			if err := a.RegisterWith(ctx, s.registrar); err != nil {
				s.logger.Warn("failed to register annotation",
					slog.String("annotation", a.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		annos = append(annos, a)
	}
	return annos, nil
}

// queryDocument builds the store query: the target identifier under
// the direct, nested-@id and nested-id addressing conventions, plus
// the only-current history filter.
func queryDocument(q Query) map[string]any {
	doc := map[string]any{
		"$or": []any{
			map[string]any{"target": q.TargetID},
			map[string]any{"target.@id": q.TargetID},
			map[string]any{"target.id": q.TargetID},
		},
	}
	if q.OnlyCurrent {
		doc["__rerum.history.next"] = map[string]any{"$exists": true, "$size": 0}
	}
	if q.Limit > 0 {
		doc["$limit"] = q.Limit
	}
	return doc
}
