// Package services defines the business logic for pattern generation, the
// public gallery and collections. This file centralizes service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Every sentinel wraps exactly one kind from the domain taxonomy, so the
// handler layer can map them to HTTP status codes with errors.Is against the
// kind (domain.ErrNotFound, domain.ErrForbidden, ...) while tests and logs
// still see the specific cause.
package services

import (
	"fmt"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// Pattern and generation errors.
var (
	// ErrPatternNotFound indicates that the requested pattern does not exist
	// or is not visible to the current user.
	ErrPatternNotFound = fmt.Errorf("pattern not found: %w", domain.ErrNotFound)

	// ErrNotPatternOwner is returned when a user acts on a pattern they do
	// not own.
	ErrNotPatternOwner = fmt.Errorf("not the owner of this pattern: %w", domain.ErrForbidden)

	// ErrEmptyBatch is returned for a batch without requests.
	ErrEmptyBatch = fmt.Errorf("batch is empty: %w", domain.ErrValidation)

	// ErrBatchTooLarge is returned when a batch exceeds the configured size.
	ErrBatchTooLarge = fmt.Errorf("batch too large: %w", domain.ErrValidation)
)

// Gallery errors.
var (
	// ErrEntryNotFound indicates that the gallery entry does not exist or is
	// private to another user.
	ErrEntryNotFound = fmt.Errorf("gallery entry not found: %w", domain.ErrNotFound)

	// ErrAlreadyPromoted is returned when a pattern already has a gallery
	// entry.
	ErrAlreadyPromoted = fmt.Errorf("pattern already in gallery: %w", domain.ErrConflict)

	// ErrEmptyComment is returned for empty or whitespace-only comments.
	ErrEmptyComment = fmt.Errorf("comment is empty: %w", domain.ErrValidation)

	// ErrCommentTooLong is returned when a comment exceeds MaxCommentRunes.
	ErrCommentTooLong = fmt.Errorf("comment too long: %w", domain.ErrValidation)

	// ErrTitleTooLong is returned when a gallery title exceeds MaxTitleRunes.
	ErrTitleTooLong = fmt.Errorf("title too long: %w", domain.ErrValidation)

	// ErrInvalidSort is returned for an unknown gallery sort key.
	ErrInvalidSort = fmt.Errorf("sort must be one of recent, popular, likes, downloads: %w", domain.ErrValidation)
)

// Collection errors.
var (
	// ErrCollectionNotFound indicates that the collection does not exist.
	ErrCollectionNotFound = fmt.Errorf("collection not found: %w", domain.ErrNotFound)

	// ErrNotCollectionOwner is returned when a user modifies, or lists a
	// private, collection they do not own.
	ErrNotCollectionOwner = fmt.Errorf("not the owner of this collection: %w", domain.ErrForbidden)

	// ErrEmptyCollectionName is returned when the trimmed name is empty.
	ErrEmptyCollectionName = fmt.Errorf("collection name is empty: %w", domain.ErrValidation)

	// ErrCollectionNameTooLong is returned when the name exceeds
	// MaxCollectionNameRunes.
	ErrCollectionNameTooLong = fmt.Errorf("collection name too long: %w", domain.ErrValidation)

	// ErrDuplicateCollectionItem is returned when the pattern is already in
	// the collection.
	ErrDuplicateCollectionItem = fmt.Errorf("pattern already in collection: %w", domain.ErrConflict)

	// ErrCollectionItemNotFound is returned when removing a pattern that is
	// not in the collection.
	ErrCollectionItemNotFound = fmt.Errorf("pattern not in collection: %w", domain.ErrNotFound)
)
