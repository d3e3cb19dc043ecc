// Pattern HTTP handlers.
//
//   - POST /patterns/generate          (single, idempotent)
//   - POST /patterns/generate/batch    (bounded batch with per-item outcomes)
//   - GET  /patterns                   (history, filtered and paginated)
//   - POST /patterns/{id}/download     (download counter)
//   - GET  /quota                      (monthly and daily windows)
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pattern-backend/internal/domain"
	"github.com/tbourn/go-pattern-backend/internal/http/middleware"
	"github.com/tbourn/go-pattern-backend/internal/quota"
	"github.com/tbourn/go-pattern-backend/internal/repo"
)

// GenerateRequest is the JSON payload for one generation.
type GenerateRequest struct {
	domain.PromptFields
	// FreeText is optional guidance appended to the prompt (max 500 chars).
	FreeText string `json:"free_text" example:"soft watercolor texture"`
}

func (r GenerateRequest) toDomain(uid string) domain.GenerationRequest {
	return domain.GenerationRequest{Fields: r.PromptFields, FreeText: r.FreeText, RequesterID: uid}
}

// BatchGenerateRequest is the JSON payload for a batch.
type BatchGenerateRequest struct {
	Requests []GenerateRequest `json:"requests"`
}

// ListPatternsResponse wraps a page of generated patterns.
type ListPatternsResponse struct {
	Patterns   []domain.GeneratedPattern `json:"patterns"`
	Pagination Pagination                `json:"pagination"`
}

// QuotaResponse reports both windows and the units available right now.
type QuotaResponse struct {
	quota.Status
	Remaining int `json:"remaining" example:"7"`
}

// GeneratePattern godoc
// @ID          generatePattern
// @Summary     Generate a pattern
// @Description Composes the prompt, reserves one unit of quota and generates an image.
// @Description Provider failures fall back to a deterministic placeholder.
// @Description Replays with the same Idempotency-Key return the first pattern and spend no quota.
// @Tags        Patterns
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.GenerateRequest  true  "Structured prompt fields"
//
// @Success     201  {object}  domain.GeneratedPattern
// @Success     200  {object}  domain.GeneratedPattern  "Idempotent replay"
// @Header      200  {string}  Idempotency-Replayed  "true"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     429  {object}  handlers.ErrorResponse  "Quota exceeded"
// @Failure     502  {object}  handlers.ErrorResponse  "Storage failure"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /patterns/generate [post]
func (h *Handlers) GeneratePattern(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	p, replayed, err := h.patterns.GenerateSingle(c.Request.Context(), req.toDomain(userID(c)), key)
	if err != nil {
		failErr(c, err)
		return
	}
	if replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		ok(c, http.StatusOK, p)
		return
	}
	ok(c, http.StatusCreated, p)
}

// GenerateBatch godoc
// @ID          generateBatch
// @Summary     Generate a batch of patterns
// @Description Reserves quota for the whole batch up front, then generates every item concurrently.
// @Description Item failures are reported per item and release their quota; the batch itself still returns 200.
// @Tags        Patterns
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"  example(user123)
// @Param       body       body    handlers.BatchGenerateRequest  true  "Batch payload"
//
// @Success     200  {object}  services.BatchReport
// @Failure     400  {object}  handlers.ErrorResponse  "Empty or oversized batch"
// @Failure     429  {object}  handlers.ErrorResponse  "Quota cannot cover the batch"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /patterns/generate/batch [post]
func (h *Handlers) GenerateBatch(c *gin.Context) {
	var req BatchGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	uid := userID(c)
	reqs := make([]domain.GenerationRequest, len(req.Requests))
	for i, r := range req.Requests {
		reqs[i] = r.toDomain(uid)
	}

	report, err := h.batch.RunBatch(c.Request.Context(), uid, reqs)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, report)
}

// ListPatterns godoc
// @ID          listPatterns
// @Summary     List generation history
// @Description Returns the caller's patterns, newest first.
// @Tags        Patterns
// @Produce     json
//
// @Param       X-User-ID   header  string  false "User ID"  example(user123)
// @Param       motif       query   string  false "Motif filter (case-insensitive)"
// @Param       style       query   string  false "Style filter"
// @Param       region      query   string  false "Region filter"
// @Param       in_gallery  query   bool    false "Only patterns (not) promoted to the gallery"
// @Param       page        query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size   query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListPatternsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /patterns [get]
func (h *Handlers) ListPatterns(c *gin.Context) {
	page, pageSize := clampPagination(c)
	f := repo.HistoryFilter{
		Motif:  strings.TrimSpace(c.Query("motif")),
		Style:  strings.TrimSpace(c.Query("style")),
		Region: strings.TrimSpace(c.Query("region")),
	}
	if raw := c.Query("in_gallery"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "in_gallery must be a boolean")
			return
		}
		f.InGallery = &b
	}

	items, total, err := h.patterns.ListHistory(c.Request.Context(), userID(c), f, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListPatternsResponse{Patterns: items, Pagination: newPagination(page, pageSize, total)})
}

// DownloadPattern godoc
// @ID          downloadPattern
// @Summary     Record a download
// @Description Increments the download counter and returns the image URL.
// @Description Allowed for the owner, or anyone when the pattern is public in the gallery.
// @Tags        Patterns
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"  example(user123)
// @Param       id         path    string  true  "Pattern ID (UUID)"  format(uuid)
//
// @Success     200  {object}  services.DownloadResult
// @Failure     404  {object}  handlers.ErrorResponse  "Pattern not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /patterns/{id}/download [post]
func (h *Handlers) DownloadPattern(c *gin.Context) {
	id, valid := uuidParam(c, "id", "pattern")
	if !valid {
		return
	}
	res, err := h.patterns.RecordDownload(c.Request.Context(), id, userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// GetQuota godoc
// @ID          getQuota
// @Summary     Quota status
// @Description Returns used, limit, remaining and reset time for the monthly and daily windows.
// @Tags        Quota
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"  example(user123)
//
// @Success     200  {object}  handlers.QuotaResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /quota [get]
func (h *Handlers) GetQuota(c *gin.Context) {
	st, err := h.patterns.GetQuotaStatus(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, QuotaResponse{Status: st, Remaining: st.Remaining()})
}
