// Gallery HTTP handlers.
//
//   - POST /gallery                   (promote an owned pattern)
//   - GET  /gallery                   (public listing, filters, sorts, ETag)
//   - GET  /gallery/{id}              (single entry)
//   - POST /gallery/{id}/like         (toggle)
//   - GET  /gallery/{id}/comments     (paginated, newest first)
//   - POST /gallery/{id}/comments     (append)
package handlers

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pattern-backend/internal/domain"
	"github.com/tbourn/go-pattern-backend/internal/services"
)

// PromoteRequest is the JSON payload for promoting a pattern.
type PromoteRequest struct {
	PatternID string `json:"pattern_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// Title defaults to "<Motif> <Style> Pattern" when omitted.
	Title       *string  `json:"title"       example:"Lotus Batik"`
	Description string   `json:"description" example:"Indigo lotus repeat for sarongs"`
	Tags        []string `json:"tags"        example:"batik,lotus"`
	// IsPublic defaults to true.
	IsPublic *bool `json:"is_public" example:"true"`
}

// CommentRequest is the JSON payload for a comment.
type CommentRequest struct {
	Content string `json:"content" binding:"required" example:"Beautiful palette!"`
}

// ListGalleryResponse wraps a page of public gallery entries.
type ListGalleryResponse struct {
	Entries    []domain.GalleryEntry `json:"entries"`
	Pagination Pagination            `json:"pagination"`
}

// ListCommentsResponse wraps a page of comments.
type ListCommentsResponse struct {
	Comments   []domain.Comment `json:"comments"`
	Pagination Pagination       `json:"pagination"`
}

// PromoteToGallery godoc
// @ID          promoteToGallery
// @Summary     Promote a pattern to the gallery
// @Description Creates the gallery entry for a pattern owned by the caller. A pattern can be promoted once.
// @Tags        Gallery
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"  example(user123)
// @Param       body       body    handlers.PromoteRequest  true  "Promotion payload"
//
// @Success     201  {object}  domain.GalleryEntry
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the pattern owner"
// @Failure     404  {object}  handlers.ErrorResponse  "Pattern not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already promoted"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /gallery [post]
func (h *Handlers) PromoteToGallery(c *gin.Context) {
	var req PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "pattern_id required")
		return
	}
	public := true
	if req.IsPublic != nil {
		public = *req.IsPublic
	}

	e, err := h.gallery.Promote(c.Request.Context(), userID(c), services.PromoteInput{
		PatternID:   strings.TrimSpace(req.PatternID),
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		IsPublic:    public,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, e)
}

// ListGallery godoc
// @ID          listGallery
// @Summary     List the public gallery
// @Description Returns public entries only. Search matches title, description and tags case-insensitively.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Gallery
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       motif          query   string  false "Motif filter"
// @Param       style          query   string  false "Style filter"
// @Param       region         query   string  false "Region filter"
// @Param       search         query   string  false "Free-text search"
// @Param       sort           query   string  false "Sort key"  Enums(recent, popular, likes, downloads) default(recent)
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListGalleryResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse "Invalid sort"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /gallery [get]
func (h *Handlers) ListGallery(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)
	q := services.GalleryQuery{
		Motif:    c.Query("motif"),
		Style:    c.Query("style"),
		Region:   c.Query("region"),
		Search:   c.Query("search"),
		Sort:     c.Query("sort"),
		Page:     page,
		PageSize: pageSize,
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := h.gallery.Stats(ctx); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"gallery:%d:%d:%x"`, count, ts, queryHash(c.Request.URL.RawQuery))
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.gallery.ListPublicGallery(ctx, q)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListGalleryResponse{Entries: items, Pagination: newPagination(page, pageSize, total)})
}

// GetGalleryEntry godoc
// @ID          getGalleryEntry
// @Summary     Get a gallery entry
// @Description Private entries are visible to their owner only.
// @Tags        Gallery
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"  example(user123)
// @Param       id         path    string  true  "Gallery entry ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.GalleryEntry
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Entry not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /gallery/{id} [get]
func (h *Handlers) GetGalleryEntry(c *gin.Context) {
	id, valid := uuidParam(c, "id", "gallery entry")
	if !valid {
		return
	}
	e, err := h.gallery.GetEntry(c.Request.Context(), id, userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, e)
}

// ToggleLike godoc
// @ID          toggleLike
// @Summary     Like or unlike an entry
// @Description Flips the caller's like and returns the resulting state and count.
// @Tags        Gallery
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"  example(user123)
// @Param       id         path    string  true  "Gallery entry ID (UUID)"  format(uuid)
//
// @Success     200  {object}  services.LikeResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Entry not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /gallery/{id}/like [post]
func (h *Handlers) ToggleLike(c *gin.Context) {
	id, valid := uuidParam(c, "id", "gallery entry")
	if !valid {
		return
	}
	res, err := h.gallery.ToggleLike(c.Request.Context(), id, userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ListComments godoc
// @ID          listComments
// @Summary     List comments on an entry
// @Description Newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Gallery
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID"  example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       id             path    string  true  "Gallery entry ID (UUID)"  format(uuid)
// @Param       page       query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListCommentsResponse
// @Header      200  {string}  ETag  "Weak ETag for current page"
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Entry not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /gallery/{id}/comments [get]
func (h *Handlers) ListComments(c *gin.Context) {
	id, valid := uuidParam(c, "id", "gallery entry")
	if !valid {
		return
	}
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// Errors fall through to ListComments, which reports them.
	if count, latest, err := h.gallery.CommentStats(ctx, id, uid); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"comments:%s:%d:%d:%d:%d"`, id, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.gallery.ListComments(ctx, id, uid, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListCommentsResponse{Comments: items, Pagination: newPagination(page, pageSize, total)})
}

// AddComment godoc
// @ID          addComment
// @Summary     Comment on an entry
// @Tags        Gallery
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"  example(user123)
// @Param       id         path    string  true  "Gallery entry ID (UUID)"  format(uuid)
// @Param       body       body    handlers.CommentRequest  true  "Comment payload"
//
// @Success     201  {object}  domain.Comment
// @Failure     400  {object}  handlers.ErrorResponse  "Empty or too long"
// @Failure     404  {object}  handlers.ErrorResponse  "Entry not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /gallery/{id}/comments [post]
func (h *Handlers) AddComment(c *gin.Context) {
	id, valid := uuidParam(c, "id", "gallery entry")
	if !valid {
		return
	}
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	cm, err := h.gallery.AddComment(c.Request.Context(), id, userID(c), req.Content)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, cm)
}

func queryHash(raw string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(raw))
	return h.Sum32()
}
