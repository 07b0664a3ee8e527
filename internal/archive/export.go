package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/groblegark/pairlock/internal/model"
	"github.com/groblegark/pairlock/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	Since        time.Time `json:"since"`
	RequestCount int       `json:"request_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// archivedRequest is one settled request with its review trail embedded.
type archivedRequest struct {
	Request *model.Request  `json:"request"`
	Reviews []*model.Review `json:"reviews,omitempty"`
}

// ExportJSONL writes the requests that settled at or after since, with
// their reviews, as JSONL to w. It returns the number of requests written
// and the latest settle time seen, for the caller's watermark.
func ExportJSONL(ctx context.Context, s store.Store, since time.Time, w io.Writer) (int, time.Time, error) {
	requests, err := s.ListTerminalRequestsSince(ctx, since)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("list settled requests: %w", err)
	}

	archived := make([]archivedRequest, 0, len(requests))
	var latest time.Time
	for _, req := range requests {
		reviews, err := s.ListReviews(ctx, req.ID)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("list reviews for %s: %w", req.ID, err)
		}
		archived = append(archived, archivedRequest{Request: req, Reviews: reviews})
		if req.UpdatedAt.After(latest) {
			latest = req.UpdatedAt
		}
	}

	sort.Slice(archived, func(i, j int) bool {
		return archived[i].Request.ID < archived[j].Request.ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		Since:        since,
		RequestCount: len(archived),
	}); err != nil {
		return 0, time.Time{}, fmt.Errorf("encode header: %w", err)
	}

	for _, entry := range archived {
		if err := enc.Encode(record{Type: "request", Data: entry}); err != nil {
			return 0, time.Time{}, fmt.Errorf("encode request %s: %w", entry.Request.ID, err)
		}
	}

	return len(archived), latest, nil
}
