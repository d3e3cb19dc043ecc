// Package domain defines the persistence models for generated patterns and
// the social layer around them (gallery entries, likes, comments and
// collections) together with the per-user quota windows. These types are
// mapped with GORM and form the core data layer of the pattern studio.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Complexity levels recognized by the prompt composer.
const (
	ComplexitySimple    = "simple"
	ComplexityModerate  = "moderate"
	ComplexityIntricate = "intricate"
)

// PromptFields are the structured attributes of a generation request.
// Motif, Style, ColorPalette, Region and Complexity are required.
type PromptFields struct {
	Motif        string `json:"motif"         example:"lotus"`
	Style        string `json:"style"         example:"traditional"`
	ColorPalette string `json:"color_palette" example:"indigo and gold"`
	Region       string `json:"region"        example:"Java"`
	Complexity   string `json:"complexity"    example:"moderate"`
}

// Normalized returns a copy with surrounding whitespace removed and the
// complexity and style keys lower-cased.
func (f PromptFields) Normalized() PromptFields {
	return PromptFields{
		Motif:        strings.TrimSpace(f.Motif),
		Style:        strings.ToLower(strings.TrimSpace(f.Style)),
		ColorPalette: strings.TrimSpace(f.ColorPalette),
		Region:       strings.TrimSpace(f.Region),
		Complexity:   strings.ToLower(strings.TrimSpace(f.Complexity)),
	}
}

// GenerationRequest is an immutable request to generate one pattern.
type GenerationRequest struct {
	Fields      PromptFields `json:"fields"`
	FreeText    string       `json:"free_text,omitempty"`
	RequesterID string       `json:"-"`
}

// GenerationKind tags whether bytes came from the provider or the
// deterministic placeholder renderer.
type GenerationKind string

const (
	GenerationReal     GenerationKind = "real"
	GenerationFallback GenerationKind = "fallback"
)

// GeneratedPattern is the persisted result of a successful generation.
// Only the counters and InGallery change after creation.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - RequesterID: owner of the pattern; indexed with CreatedAt for history.
//   - Motif/Style/Region: denormalized copies of the structured fields used
//     by history and gallery filters.
//   - StructuredFields: the full PromptFields as JSON.
//   - ImageURL/ImageDigest: storage reference and sha256 hex of the bytes.
//   - Source: "real" or "fallback".
type GeneratedPattern struct {
	ID               string         `json:"id"                gorm:"type:char(36);primaryKey"`
	RequesterID      string         `json:"requester_id"      gorm:"type:varchar(64);not null;index:idx_pattern_owner,priority:1"`
	FinalPrompt      string         `json:"final_prompt"      gorm:"type:text;not null"`
	OriginalPrompt   string         `json:"original_prompt"   gorm:"type:text"`
	Motif            string         `json:"motif"             gorm:"type:varchar(128);not null;index"`
	Style            string         `json:"style"             gorm:"type:varchar(64);not null;index"`
	Region           string         `json:"region"            gorm:"type:varchar(128);not null;index"`
	StructuredFields datatypes.JSON `json:"structured_fields" swaggertype:"object"`
	ImageURL         string         `json:"image_url"         gorm:"type:varchar(512);not null"`
	ImageDigest      string         `json:"image_digest"      gorm:"type:char(64);not null"`
	Source           GenerationKind `json:"source"            gorm:"type:varchar(16);not null;check:source IN ('real','fallback')"`
	InGallery        bool           `json:"in_gallery"        gorm:"not null;default:false"`
	LikesCount       int            `json:"likes_count"       gorm:"not null;default:0;check:likes_count >= 0"`
	DownloadCount    int            `json:"download_count"    gorm:"not null;default:0;check:download_count >= 0"`
	CreatedAt        time.Time      `json:"created_at"        gorm:"index:idx_pattern_owner,priority:2"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                 gorm:"index"`
}

// TableName returns the database table name for GeneratedPattern.
func (GeneratedPattern) TableName() string { return "patterns" }

// Fields decodes StructuredFields. A malformed column yields zero values.
func (p *GeneratedPattern) Fields() PromptFields {
	var f PromptFields
	if len(p.StructuredFields) > 0 {
		_ = json.Unmarshal(p.StructuredFields, &f)
	}
	return f
}

// GalleryEntry is a pattern promoted into the gallery. One entry per pattern.
type GalleryEntry struct {
	ID          string         `json:"id"          gorm:"type:char(36);primaryKey"`
	PatternID   string         `json:"pattern_id"  gorm:"type:char(36);not null;uniqueIndex:ux_gallery_pattern"`
	OwnerID     string         `json:"owner_id"    gorm:"type:varchar(64);not null;index"`
	Title       string         `json:"title"       gorm:"type:varchar(255);not null"`
	Description string         `json:"description" gorm:"type:text"`
	Tags        datatypes.JSON `json:"tags"        swaggertype:"array,string"`
	IsPublic    bool           `json:"is_public"   gorm:"not null;index:idx_gallery_public,priority:1"`
	CreatedAt   time.Time      `json:"created_at"  gorm:"index:idx_gallery_public,priority:2"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"           gorm:"index"`

	// Pattern is the promoted pattern; likes and downloads are counted on it.
	Pattern GeneratedPattern `json:"pattern" gorm:"foreignKey:PatternID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for GalleryEntry.
func (GalleryEntry) TableName() string { return "gallery_entries" }

// TagList decodes Tags.
func (e *GalleryEntry) TagList() []string {
	var tags []string
	if len(e.Tags) > 0 {
		_ = json.Unmarshal(e.Tags, &tags)
	}
	return tags
}

// Like records that a user likes a gallery entry. Unique per (entry, user);
// a second toggle deletes the row.
type Like struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	GalleryEntryID string    `json:"gallery_entry_id" gorm:"type:char(36);not null;uniqueIndex:ux_like_entry_user"`
	UserID         string    `json:"user_id"          gorm:"type:varchar(64);not null;index;uniqueIndex:ux_like_entry_user"`
	CreatedAt      time.Time `json:"created_at"`

	GalleryEntry GalleryEntry `json:"-" gorm:"foreignKey:GalleryEntryID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Like.
func (Like) TableName() string { return "likes" }

// Comment is an append-only remark on a gallery entry.
type Comment struct {
	ID             string         `json:"id"               gorm:"type:char(36);primaryKey"`
	GalleryEntryID string         `json:"gallery_entry_id" gorm:"type:char(36);not null;index:idx_entry_comments,priority:1"`
	AuthorID       string         `json:"author_id"        gorm:"type:varchar(64);not null"`
	Content        string         `json:"content"          gorm:"type:text;not null"`
	CreatedAt      time.Time      `json:"created_at"       gorm:"index:idx_entry_comments,priority:2"`
	DeletedAt      gorm.DeletedAt `json:"-"                gorm:"index"`

	GalleryEntry GalleryEntry `json:"-" gorm:"foreignKey:GalleryEntryID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Comment.
func (Comment) TableName() string { return "comments" }

// Collection is a user-curated set of patterns.
type Collection struct {
	ID          string         `json:"id"          gorm:"type:char(36);primaryKey"`
	OwnerID     string         `json:"owner_id"    gorm:"type:varchar(64);not null;index:idx_owner_collections"`
	Name        string         `json:"name"        gorm:"type:varchar(120);not null"`
	Description string         `json:"description" gorm:"type:text"`
	IsPublic    bool           `json:"is_public"   gorm:"not null;default:false"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for Collection.
func (Collection) TableName() string { return "collections" }

// CollectionItem links a pattern into a collection, unique per pair.
type CollectionItem struct {
	CollectionID string    `json:"collection_id" gorm:"type:char(36);primaryKey"`
	PatternID    string    `json:"pattern_id"    gorm:"type:char(36);primaryKey"`
	AddedAt      time.Time `json:"added_at"      gorm:"not null"`

	Collection Collection       `json:"-"       gorm:"foreignKey:CollectionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Pattern    GeneratedPattern `json:"pattern" gorm:"foreignKey:PatternID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for CollectionItem.
func (CollectionItem) TableName() string { return "collection_items" }

// QuotaWindow holds a user's monthly and daily counters and the instants at
// which each resets. Counts never exceed their limits after a reservation.
type QuotaWindow struct {
	UserID         string    `json:"user_id"          gorm:"type:varchar(64);primaryKey"`
	MonthlyCount   int       `json:"monthly_count"    gorm:"not null;default:0"`
	MonthlyLimit   int       `json:"monthly_limit"    gorm:"not null"`
	MonthlyResetAt time.Time `json:"monthly_reset_at" gorm:"not null;index"`
	DailyCount     int       `json:"daily_count"      gorm:"not null;default:0"`
	DailyLimit     int       `json:"daily_limit"      gorm:"not null"`
	DailyResetAt   time.Time `json:"daily_reset_at"   gorm:"not null;index"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for QuotaWindow.
func (QuotaWindow) TableName() string { return "quota_windows" }

// MonthlyRemaining is the admission headroom in the monthly window.
func (w QuotaWindow) MonthlyRemaining() int { return nonNegative(w.MonthlyLimit - w.MonthlyCount) }

// DailyRemaining is the admission headroom in the daily window.
func (w QuotaWindow) DailyRemaining() int { return nonNegative(w.DailyLimit - w.DailyCount) }

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
