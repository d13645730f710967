package model

// Settings is a point-in-time snapshot of the administrator configuration.
type Settings struct {
	BaseSegment      string   `json:"base_segment"`
	ActiveTypes      []string `json:"active_types"`
	RelationsEnabled bool     `json:"relations_enabled"`
	// NonPublic is nil when the inclusion rules were never configured.
	NonPublic []string `json:"nonpublic_visibility"`
}

// RestrictsNonPublic reports whether non-public post types are filtered by
// the configured inclusion set.
func (s Settings) RestrictsNonPublic() bool {
	return s.NonPublic != nil
}
