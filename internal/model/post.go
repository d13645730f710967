package model

import "time"

// Post status values understood by the API.
const (
	StatusPublish = "publish"
	StatusDraft   = "draft"
	StatusPrivate = "private"
	StatusPending = "pending"
)

// Post is a content object of some post type, as exposed over the API.
type Post struct {
	ID            int64          `json:"id" db:"id"`
	Title         string         `json:"title" db:"title"`
	Content       string         `json:"content" db:"content"`
	Excerpt       string         `json:"excerpt" db:"excerpt"`
	Slug          string         `json:"slug" db:"slug"`
	Status        string         `json:"status" db:"status"`
	Type          string         `json:"type" db:"post_type"`
	Date          time.Time      `json:"date" db:"created_at"`
	Modified      time.Time      `json:"modified" db:"modified_at"`
	Author        int64          `json:"author" db:"author"`
	FeaturedMedia int64          `json:"featured_media" db:"featured_media"`
	Meta          map[string]any `json:"meta" db:"-"`
}

// PostQuery selects a page of posts of one type and status.
type PostQuery struct {
	Type    string
	Status  string
	PerPage int
	Page    int
}

// PostChanges is a partial update. Nil fields are left untouched.
type PostChanges struct {
	Title   *string
	Content *string
	Excerpt *string
	Status  *string
}
