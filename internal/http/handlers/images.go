package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Herbiiiii/Nano-banana/internal/domain"
	"github.com/Herbiiiii/Nano-banana/internal/jobs"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

type imageGenerateRequest struct {
	Prompt          string   `json:"prompt"`
	NegativePrompt  string   `json:"negative_prompt"`
	Mode            string   `json:"generation_mode"`
	Resolution      string   `json:"resolution"`
	AspectRatio     string   `json:"aspect_ratio"`
	GuidanceScale   float64  `json:"guidance_scale"`
	Steps           int      `json:"num_inference_steps"`
	Seed            *int     `json:"seed"`
	ReferenceImages []string `json:"reference_images"`
	APIKey          string   `json:"replicate_api_key"`
}

type jobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type imageListItem struct {
	ID                  string     `json:"id"`
	Prompt              string     `json:"prompt"`
	Mode                string     `json:"generation_mode"`
	Status              string     `json:"status"`
	Resolution          string     `json:"resolution,omitempty"`
	AspectRatio         string     `json:"aspect_ratio,omitempty"`
	ResultURL           string     `json:"result_url,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	ReferenceImageCount int        `json:"reference_images_count,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

type imageDetail struct {
	imageListItem
	NegativePrompt     string    `json:"negative_prompt,omitempty"`
	GuidanceScale      float64   `json:"guidance_scale,omitempty"`
	Steps              int       `json:"num_inference_steps,omitempty"`
	Seed               *int      `json:"seed,omitempty"`
	ReferenceImageURLs []string  `json:"reference_image_urls,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type storageInfo struct {
	RetentionDays int    `json:"retention_days"`
	Message       string `json:"message"`
}

type listMeta struct {
	Total       int         `json:"total"`
	Shown       int         `json:"shown"`
	Limit       int         `json:"limit"`
	Offset      int         `json:"offset"`
	StorageInfo storageInfo `json:"storage_info"`
}

type imageListResponse struct {
	Images []imageListItem `json:"images"`
	Meta   listMeta        `json:"meta"`
}

func listItem(gen *domain.Generation) imageListItem {
	item := imageListItem{
		ID:                  gen.ID,
		Prompt:              gen.Prompt,
		Mode:                string(gen.Mode),
		Status:              string(gen.Status),
		Resolution:          gen.Resolution,
		AspectRatio:         gen.AspectRatio,
		ResultURL:           gen.ResultURL,
		ReferenceImageCount: gen.Metadata.ReferenceImageCount,
		CreatedAt:           gen.CreatedAt,
		CompletedAt:         gen.CompletedAt,
	}
	if gen.Status == domain.StatusFailed {
		item.ErrorMessage = gen.Metadata.Error
	}
	return item
}

// ImagesGenerate accepts a generation job. The response is always 202 with
// the pending job id; the outcome is observed by polling the job.
func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req imageGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt required")
		return
	}

	mode := domain.Mode(strings.TrimSpace(req.Mode))
	switch mode {
	case "":
		mode = domain.ModeTextToImage
		if len(req.ReferenceImages) > 0 {
			mode = domain.ModeImageToImage
		}
	case domain.ModeTextToImage, domain.ModeImageToImage:
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "unknown generation_mode")
		return
	}
	gen, err := a.Orchestrator.Submit(r.Context(), userID, jobs.SubmitRequest{
		Prompt:          req.Prompt,
		NegativePrompt:  req.NegativePrompt,
		Mode:            mode,
		Resolution:      req.Resolution,
		AspectRatio:     req.AspectRatio,
		GuidanceScale:   req.GuidanceScale,
		Steps:           req.Steps,
		Seed:            req.Seed,
		ReferenceImages: req.ReferenceImages,
		APIKey:          req.APIKey,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrMissingCredential):
		a.error(w, http.StatusBadRequest, "missing_credential", "no generation API key configured or provided")
		return
	case errors.Is(err, domain.ErrConcurrencyLimit):
		a.error(w, http.StatusTooManyRequests, "concurrency_limit", "an active generation already exists, wait for it to finish")
		return
	case errors.Is(err, domain.ErrQueueFull):
		a.error(w, http.StatusTooManyRequests, "queue_full", "generation queue is full, retry later")
		return
	default:
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("submit failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue generation")
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: gen.ID, Status: string(gen.Status)})
}

func (a *App) ImagesList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	gens, total, err := a.Repo.ListForUser(r.Context(), userID, limit, offset)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("list failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list generations")
		return
	}
	items := make([]imageListItem, 0, len(gens))
	for _, gen := range gens {
		items = append(items, listItem(gen))
	}
	a.json(w, http.StatusOK, imageListResponse{
		Images: items,
		Meta: listMeta{
			Total:  total,
			Shown:  len(items),
			Limit:  limit,
			Offset: offset,
			StorageInfo: storageInfo{
				RetentionDays: a.RetentionDays,
				Message:       fmt.Sprintf("images are stored for %d days after generation", a.RetentionDays),
			},
		},
	})
}

func (a *App) ImageGet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "id")
	gen, err := a.Repo.GetForUser(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("get failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return
	}
	a.json(w, http.StatusOK, imageDetail{
		imageListItem:      listItem(gen),
		NegativePrompt:     gen.NegativePrompt,
		GuidanceScale:      gen.GuidanceScale,
		Steps:              gen.Steps,
		Seed:               gen.Seed,
		ReferenceImageURLs: gen.Metadata.ReferenceImageURLs,
		UpdatedAt:          gen.UpdatedAt,
	})
}

// ImageDelete removes the record and its stored result. Reference images
// stay put: other jobs may share them and the sweeper reclaims orphans.
func (a *App) ImageDelete(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "id")
	gen, err := a.Repo.GetForUser(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("delete lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return
	}
	if gen.ResultPath != "" {
		if err := a.Store.Delete(r.Context(), gen.ResultPath); err != nil {
			a.Logger.Warn().Err(err).Str("path", gen.ResultPath).Msg("cannot delete result artifact")
		}
	}
	if err := a.Repo.Delete(r.Context(), gen.ID); err != nil {
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("delete failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete generation")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "deleted", "id": gen.ID})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
