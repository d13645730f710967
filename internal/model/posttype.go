package model

// PostType describes a host-registered post type. It is owned by the host
// registry; this service only reads it.
type PostType struct {
	Name              string `json:"name" db:"name"`
	Label             string `json:"label" db:"label"`
	Description       string `json:"description" db:"description"`
	Public            bool   `json:"public" db:"public"`
	PubliclyQueryable bool   `json:"publicly_queryable" db:"publicly_queryable"`
	ShowUI            bool   `json:"show_ui" db:"show_ui"`
	Builtin           bool   `json:"builtin" db:"builtin"`
}

// Visibility classes a non-public post type can fall into. They are
// mutually exclusive: queryable wins over admin-only, which wins over private.
const (
	VisibilityQueryable = "publicly_queryable"
	VisibilityAdminOnly = "show_ui"
	VisibilityPrivate   = "private"
)

// Visibility returns the non-public visibility class of the type, or ""
// for public types.
func (p PostType) Visibility() string {
	switch {
	case p.Public:
		return ""
	case p.PubliclyQueryable:
		return VisibilityQueryable
	case p.ShowUI:
		return VisibilityAdminOnly
	default:
		return VisibilityPrivate
	}
}
