package model

// Relationship is a relationship definition between post types, as reported
// by the relationship provider.
type Relationship struct {
	Slug        string      `json:"slug"`
	Name        string      `json:"name"`
	ParentTypes []string    `json:"parent_types"`
	ChildTypes  []string    `json:"child_types"`
	Cardinality Cardinality `json:"cardinality"`
	IsActive    bool        `json:"is_active"`
}

// Cardinality bounds of a relationship. -1 means unbounded.
type Cardinality struct {
	ParentMax int `json:"parent_max"`
	ChildMax  int `json:"child_max"`
}

// RelationshipInstance associates one parent post with one child post.
// RelationshipID is obscured, not secret: anyone who knows the parent, child
// and slug can derive it.
type RelationshipInstance struct {
	RelationshipID string `json:"relationship_id"`
	ParentID       int64  `json:"parent_id"`
	ChildID        int64  `json:"child_id"`
	RelationSlug   string `json:"relation_slug"`
}
