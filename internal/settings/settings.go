// Package settings holds the administrator configuration: the base path
// segment, the active post types, the relationship toggle and the
// non-public inclusion rules. Values live in the host option store and are
// read fresh on every call.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"sync"

	"github.com/cptrest/cptrest/internal/apierr"
	"github.com/cptrest/cptrest/internal/model"
)

// Option names in the host option store.
const (
	OptionBaseSegment = "cpt_rest_api_base_segment"
	OptionActiveTypes = "cpt_rest_api_active_cpts"
	OptionRelations   = "cpt_rest_api_toolset_relationships"
	OptionNonPublic   = "cpt_rest_api_include_nonpublic_cpts"
)

// DefaultBaseSegment is used when no segment has been saved.
const DefaultBaseSegment = "cpt"

const maxSegmentLen = 120

var segmentPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// OptionStore is the host key-value facility.
type OptionStore interface {
	GetOption(ctx context.Context, name string) (string, bool, error)
	SetOption(ctx context.Context, name, value string) error
	DeleteOption(ctx context.Context, name string) error
}

// Service reads and writes the configuration. Writes are serialised so that
// concurrent admin actions cannot lose updates.
type Service struct {
	store OptionStore
	mu    sync.Mutex
}

// New creates a settings service over the given option store.
func New(store OptionStore) *Service {
	return &Service{store: store}
}

// Snapshot returns the current configuration. ActiveTypes is the raw saved
// list; use the catalog to intersect it with the available types.
func (s *Service) Snapshot(ctx context.Context) (model.Settings, error) {
	out := model.Settings{BaseSegment: DefaultBaseSegment, ActiveTypes: []string{}}

	seg, ok, err := s.store.GetOption(ctx, OptionBaseSegment)
	if err != nil {
		return out, err
	}
	if ok && ValidSegment(seg) {
		out.BaseSegment = seg
	}

	if err := s.getList(ctx, OptionActiveTypes, &out.ActiveTypes); err != nil {
		return out, err
	}

	raw, ok, err := s.store.GetOption(ctx, OptionRelations)
	if err != nil {
		return out, err
	}
	if ok {
		out.RelationsEnabled, _ = strconv.ParseBool(raw)
	}

	_, ok, err = s.store.GetOption(ctx, OptionNonPublic)
	if err != nil {
		return out, err
	}
	if ok {
		out.NonPublic = []string{}
		if err := s.getList(ctx, OptionNonPublic, &out.NonPublic); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Service) getList(ctx context.Context, name string, dst *[]string) error {
	raw, ok, err := s.store.GetOption(ctx, name)
	if err != nil || !ok || raw == "" {
		return err
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		// A corrupt list reads as empty rather than failing every request.
		return nil
	}
	*dst = list
	return nil
}

// BaseSegment returns the current base path segment.
func (s *Service) BaseSegment(ctx context.Context) (string, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return DefaultBaseSegment, err
	}
	return snap.BaseSegment, nil
}

// Update is a validated settings form submission. Nil fields are unchanged.
type Update struct {
	BaseSegment      *string   `json:"base_segment,omitempty"`
	ActiveTypes      *[]string `json:"active_types,omitempty"`
	RelationsEnabled *bool     `json:"relations_enabled,omitempty"`
	NonPublic        *[]string `json:"nonpublic_visibility,omitempty"`
}

// ValidSegment reports whether seg is an acceptable base path segment.
func ValidSegment(seg string) bool {
	return len(seg) > 0 && len(seg) <= maxSegmentLen && segmentPattern.MatchString(seg)
}

var visibilityClasses = []string{model.VisibilityQueryable, model.VisibilityAdminOnly, model.VisibilityPrivate}

// Apply validates and saves u. available is the set of currently exposable
// post types; saved active types are restricted to it.
func (s *Service) Apply(ctx context.Context, u Update, available []string) error {
	if u.BaseSegment != nil && !ValidSegment(*u.BaseSegment) {
		return apierr.Validation("invalid_base_segment",
			"The base segment may only contain lowercase letters, numbers and hyphens.")
	}
	if u.NonPublic != nil {
		for _, v := range *u.NonPublic {
			if !slices.Contains(visibilityClasses, v) {
				return apierr.Validation("invalid_visibility", fmt.Sprintf("Unknown visibility class %q.", v))
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u.BaseSegment != nil {
		if err := s.store.SetOption(ctx, OptionBaseSegment, *u.BaseSegment); err != nil {
			return err
		}
	}
	if u.ActiveTypes != nil {
		kept := []string{}
		for _, name := range *u.ActiveTypes {
			if slices.Contains(available, name) && !slices.Contains(kept, name) {
				kept = append(kept, name)
			}
		}
		if err := s.setList(ctx, OptionActiveTypes, kept); err != nil {
			return err
		}
	}
	if u.RelationsEnabled != nil {
		if err := s.store.SetOption(ctx, OptionRelations, strconv.FormatBool(*u.RelationsEnabled)); err != nil {
			return err
		}
	}
	if u.NonPublic != nil {
		list := []string{}
		for _, v := range visibilityClasses {
			if slices.Contains(*u.NonPublic, v) {
				list = append(list, v)
			}
		}
		if err := s.setList(ctx, OptionNonPublic, list); err != nil {
			return err
		}
	}
	return nil
}

// ClearNonPublic removes the inclusion rules, restoring the permissive
// default.
func (s *Service) ClearNonPublic(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DeleteOption(ctx, OptionNonPublic)
}

// ResetActiveTypes deactivates every post type.
func (s *Service) ResetActiveTypes(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setList(ctx, OptionActiveTypes, []string{})
}

func (s *Service) setList(ctx context.Context, name string, list []string) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return s.store.SetOption(ctx, name, string(data))
}
