package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/livereload/internal/domain"
	domainerrors "github.com/listenupapp/livereload/internal/errors"
	"github.com/listenupapp/livereload/internal/service"
)

func (s *Server) registerAssetRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "registerAsset",
		Method:      http.MethodPost,
		Path:        "/api/v1/assets",
		Summary:     "Register asset",
		Description: "Adds a file to the watch-set. Category is inferred from the path when omitted; mtime is read from disk when omitted.",
		Tags:        []string{"Assets"},
	}, s.handleRegisterAsset)

	huma.Register(s.api, huma.Operation{
		OperationID: "listAssets",
		Method:      http.MethodGet,
		Path:        "/api/v1/assets",
		Summary:     "List assets",
		Description: "Returns the watch-set grouped by category in iteration order",
		Tags:        []string{"Assets"},
	}, s.handleListAssets)

	huma.Register(s.api, huma.Operation{
		OperationID: "removeAsset",
		Method:      http.MethodDelete,
		Path:        "/api/v1/assets",
		Summary:     "Remove asset",
		Description: "Stops watching a file",
		Tags:        []string{"Assets"},
	}, s.handleRemoveAsset)

	huma.Register(s.api, huma.Operation{
		OperationID: "getStats",
		Method:      http.MethodGet,
		Path:        "/api/v1/stats",
		Summary:     "Server statistics",
		Description: "Returns per-category counts, subscriber count and scan engine state",
		Tags:        []string{"Assets"},
	}, s.handleGetStats)
}

// === DTOs ===

// AssetEntry is a watched file in API responses.
type AssetEntry struct {
	Category           string  `json:"category" doc:"Asset category"`
	RelativePath       string  `json:"relative_path" doc:"Path as the page references it"`
	AbsolutePath       string  `json:"absolute_path" doc:"Path on disk"`
	Filename           string  `json:"filename" doc:"Final path element"`
	MTime              float64 `json:"mtime" doc:"Last known modification time in epoch seconds"`
	MTimeISO           string  `json:"mtime_iso" doc:"Last known modification time, RFC 3339"`
	RequiresFullReload bool    `json:"requires_full_reload" doc:"Clients should reload the page instead of hot-swapping"`
}

func toAssetEntry(e domain.Entry) AssetEntry {
	return AssetEntry{
		Category:           string(e.Category),
		RelativePath:       e.RelativePath,
		AbsolutePath:       e.AbsolutePath,
		Filename:           e.Filename,
		MTime:              domain.UnixSeconds(e.MTime),
		MTimeISO:           e.MTime.UTC().Format(time.RFC3339Nano),
		RequiresFullReload: e.RequiresFullReload,
	}
}

// RegisterAssetRequest is the API request for registering a file.
type RegisterAssetRequest struct {
	Category           string  `json:"category,omitempty" maxLength:"32" doc:"Asset category; inferred from the extension when omitted"`
	RelativePath       string  `json:"relative_path" minLength:"1" maxLength:"4096" doc:"Path as the page references it"`
	AbsolutePath       string  `json:"absolute_path" minLength:"1" maxLength:"4096" doc:"Absolute path on disk"`
	MTime              *float64 `json:"mtime,omitempty" minimum:"0" doc:"Known modification time in epoch seconds; read from disk when omitted"`
	RequiresFullReload bool    `json:"requires_full_reload,omitempty" doc:"Clients should reload the page instead of hot-swapping"`
}

// RegisterAssetInput wraps the register request for Huma.
type RegisterAssetInput struct {
	Body RegisterAssetRequest
}

// RegisterAssetResponse reports the outcome of a registration.
type RegisterAssetResponse struct {
	Registered bool        `json:"registered" doc:"False when the category is unknown"`
	Category   string      `json:"category,omitempty" doc:"Category the file was filed under"`
	Entry      *AssetEntry `json:"entry,omitempty" doc:"The stored entry"`
}

// RegisterAssetOutput wraps the register response for Huma.
type RegisterAssetOutput struct {
	Body RegisterAssetResponse
}

// ListAssetsInput filters the asset listing.
type ListAssetsInput struct {
	Category string `query:"category" doc:"Only list this category"`
}

// CategoryAssets is one category of the watch-set.
type CategoryAssets struct {
	Name    string       `json:"name" doc:"Category name"`
	Entries []AssetEntry `json:"entries" doc:"Entries in insertion order"`
}

// ListAssetsResponse is the watch-set.
type ListAssetsResponse struct {
	Files      int              `json:"files" doc:"Total entries listed"`
	Categories []CategoryAssets `json:"categories" doc:"Categories in iteration order"`
}

// ListAssetsOutput wraps the listing for Huma.
type ListAssetsOutput struct {
	Body ListAssetsResponse
}

// RemoveAssetInput identifies the file to forget.
type RemoveAssetInput struct {
	Category     string `query:"category" required:"true" doc:"Asset category"`
	AbsolutePath string `query:"absolute_path" required:"true" doc:"Absolute path on disk"`
}

// RemoveAssetResponse reports whether anything was removed.
type RemoveAssetResponse struct {
	Removed bool `json:"removed" doc:"False when the file was not watched"`
}

// RemoveAssetOutput wraps the remove response for Huma.
type RemoveAssetOutput struct {
	Body RemoveAssetResponse
}

// StatsOutput wraps the stats for Huma.
type StatsOutput struct {
	Body service.WatchStats
}

// === Handlers ===

func (s *Server) handleRegisterAsset(ctx context.Context, input *RegisterAssetInput) (*RegisterAssetOutput, error) {
	res, err := s.watch.Submit(ctx, service.RegisterRequest{
		Category:           input.Body.Category,
		RelativePath:       input.Body.RelativePath,
		AbsolutePath:       input.Body.AbsolutePath,
		MTime:              input.Body.MTime,
		RequiresFullReload: input.Body.RequiresFullReload,
	})
	if err != nil {
		return nil, s.apiError(err)
	}

	out := RegisterAssetResponse{Registered: res.Registered, Category: string(res.Category)}
	if res.Entry != nil {
		e := toAssetEntry(*res.Entry)
		out.Entry = &e
	}
	return &RegisterAssetOutput{Body: out}, nil
}

func (s *Server) handleListAssets(_ context.Context, input *ListAssetsInput) (*ListAssetsOutput, error) {
	var only domain.Category
	if input.Category != "" {
		c, ok := domain.ParseCategory(input.Category)
		if !ok {
			return nil, s.apiError(domainerrors.Validationf("unknown category %q", input.Category))
		}
		only = c
	}

	snap := s.watch.Snapshot()
	out := ListAssetsResponse{Categories: make([]CategoryAssets, 0, len(snap.Categories))}
	for _, c := range snap.Categories {
		if only != "" && c.Name != only {
			continue
		}
		ca := CategoryAssets{Name: string(c.Name), Entries: make([]AssetEntry, 0, len(c.Entries))}
		for _, e := range c.Entries {
			ca.Entries = append(ca.Entries, toAssetEntry(e))
		}
		out.Files += len(ca.Entries)
		out.Categories = append(out.Categories, ca)
	}
	return &ListAssetsOutput{Body: out}, nil
}

func (s *Server) handleRemoveAsset(_ context.Context, input *RemoveAssetInput) (*RemoveAssetOutput, error) {
	c, ok := domain.ParseCategory(input.Category)
	if !ok {
		return &RemoveAssetOutput{Body: RemoveAssetResponse{Removed: false}}, nil
	}
	return &RemoveAssetOutput{Body: RemoveAssetResponse{Removed: s.watch.Remove(c, input.AbsolutePath)}}, nil
}

func (s *Server) handleGetStats(_ context.Context, _ *struct{}) (*StatsOutput, error) {
	return &StatsOutput{Body: s.watch.Stats()}, nil
}
