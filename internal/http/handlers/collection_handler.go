// Collection HTTP handlers.
//
//   - POST   /collections                           (create)
//   - GET    /collections                           (caller's collections)
//   - GET    /collections/{id}/items                (owner, or anyone when public)
//   - POST   /collections/{id}/items                (add a visible pattern)
//   - DELETE /collections/{id}/items/{patternId}    (remove)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// CreateCollectionRequest is the JSON payload for a new collection.
type CreateCollectionRequest struct {
	Name        string `json:"name"        example:"Wedding textiles"`
	Description string `json:"description" example:"Patterns for the spring collection"`
	IsPublic    bool   `json:"is_public"   example:"false"`
}

// AddItemRequest is the JSON payload for adding a pattern to a collection.
type AddItemRequest struct {
	PatternID string `json:"pattern_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// ListCollectionsResponse wraps a page of collections.
type ListCollectionsResponse struct {
	Collections []domain.Collection `json:"collections"`
	Pagination  Pagination          `json:"pagination"`
}

// ListItemsResponse wraps a page of collection items.
type ListItemsResponse struct {
	Items      []domain.CollectionItem `json:"items"`
	Pagination Pagination              `json:"pagination"`
}

// CreateCollection godoc
// @ID          createCollection
// @Summary     Create a collection
// @Tags        Collections
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"  example(user123)
// @Param       body       body    handlers.CreateCollectionRequest  true  "Collection payload"
//
// @Success     201  {object}  domain.Collection
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /collections [post]
func (h *Handlers) CreateCollection(c *gin.Context) {
	var req CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	col, err := h.collections.Create(c.Request.Context(), userID(c), req.Name, req.Description, req.IsPublic)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, col)
}

// ListCollections godoc
// @ID          listCollections
// @Summary     List the caller's collections
// @Tags        Collections
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"  example(user123)
// @Param       page       query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListCollectionsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /collections [get]
func (h *Handlers) ListCollections(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.collections.List(c.Request.Context(), userID(c), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListCollectionsResponse{Collections: items, Pagination: newPagination(page, pageSize, total)})
}

// ListCollectionItems godoc
// @ID          listCollectionItems
// @Summary     List items in a collection
// @Description Readable by the owner, or by anyone when the collection is public.
// @Tags        Collections
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"  example(user123)
// @Param       id         path    string  true  "Collection ID (UUID)"  format(uuid)
// @Param       page       query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListItemsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Private collection"
// @Failure     404  {object}  handlers.ErrorResponse  "Collection not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /collections/{id}/items [get]
func (h *Handlers) ListCollectionItems(c *gin.Context) {
	id, valid := uuidParam(c, "id", "collection")
	if !valid {
		return
	}
	page, pageSize := clampPagination(c)
	items, total, err := h.collections.Items(c.Request.Context(), id, userID(c), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListItemsResponse{Items: items, Pagination: newPagination(page, pageSize, total)})
}

// AddCollectionItem godoc
// @ID          addCollectionItem
// @Summary     Add a pattern to a collection
// @Description The caller must own the collection and be able to see the pattern.
// @Tags        Collections
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"  example(user123)
// @Param       id         path    string  true  "Collection ID (UUID)"  format(uuid)
// @Param       body       body    handlers.AddItemRequest  true  "Pattern to add"
//
// @Success     201  {object}  domain.CollectionItem
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the collection owner"
// @Failure     404  {object}  handlers.ErrorResponse  "Collection or pattern not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already in collection"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /collections/{id}/items [post]
func (h *Handlers) AddCollectionItem(c *gin.Context) {
	id, valid := uuidParam(c, "id", "collection")
	if !valid {
		return
	}
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "pattern_id required")
		return
	}
	item, err := h.collections.Add(c.Request.Context(), id, strings.TrimSpace(req.PatternID), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, item)
}

// RemoveCollectionItem godoc
// @ID          removeCollectionItem
// @Summary     Remove a pattern from a collection
// @Tags        Collections
//
// @Param       X-User-ID  header  string  false "User ID"  example(user123)
// @Param       id         path    string  true  "Collection ID (UUID)"  format(uuid)
// @Param       patternId  path    string  true  "Pattern ID (UUID)"     format(uuid)
//
// @Success     204  {string}  string "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the collection owner"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /collections/{id}/items/{patternId} [delete]
func (h *Handlers) RemoveCollectionItem(c *gin.Context) {
	id, valid := uuidParam(c, "id", "collection")
	if !valid {
		return
	}
	patternID, valid := uuidParam(c, "patternId", "pattern")
	if !valid {
		return
	}
	if err := h.collections.Remove(c.Request.Context(), id, patternID, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
