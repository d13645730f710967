// Package relation exposes an optional relationship capability between
// posts. The provider is resolved once at startup; a nil provider means the
// capability is unavailable.
package relation

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"github.com/cptrest/cptrest/internal/model"
)

var (
	// ErrUnknownRelation means no definition has the requested slug.
	ErrUnknownRelation = errors.New("unknown relationship")
	// ErrExists means the association is already present.
	ErrExists = errors.New("relationship already exists")
	// ErrLimit means the association would exceed a cardinality bound.
	ErrLimit = errors.New("relationship cardinality exceeded")
	// ErrUnavailable means the provider cannot currently serve requests.
	ErrUnavailable = errors.New("relationship provider unavailable")
	// ErrInvalidID means a relationship instance id could not be decoded.
	ErrInvalidID = errors.New("invalid relationship id")
)

// Provider is the relationship capability.
type Provider interface {
	Definitions(ctx context.Context) ([]model.Relationship, error)
	Definition(ctx context.Context, slug string) (*model.Relationship, error)
	Instances(ctx context.Context, slug string) ([]model.RelationshipInstance, error)
	Connect(ctx context.Context, slug string, parentID, childID int64) (model.RelationshipInstance, error)
	Disconnect(ctx context.Context, slug string, parentID, childID int64) (bool, error)
}

// EncodeID returns the external id of an instance: the base64 encoding of
// "parent:child:slug". The id is obscured, not secret: anyone who knows the
// triple can build it, so it must never gate access.
func EncodeID(parentID, childID int64, slug string) string {
	raw := strconv.FormatInt(parentID, 10) + ":" + strconv.FormatInt(childID, 10) + ":" + slug
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeID parses an id produced by EncodeID and checks it belongs to slug.
// The URL-safe alphabet is accepted as well.
func DecodeID(id, slug string) (parentID, childID int64, err error) {
	raw, decErr := base64.StdEncoding.DecodeString(id)
	if decErr != nil {
		raw, decErr = base64.URLEncoding.DecodeString(id)
		if decErr != nil {
			return 0, 0, ErrInvalidID
		}
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 || parts[2] != slug {
		return 0, 0, ErrInvalidID
	}
	parentID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil || parentID <= 0 {
		return 0, 0, ErrInvalidID
	}
	childID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || childID <= 0 {
		return 0, 0, ErrInvalidID
	}
	return parentID, childID, nil
}

// NewInstance builds the external form of an association.
func NewInstance(slug string, parentID, childID int64) model.RelationshipInstance {
	return model.RelationshipInstance{
		RelationshipID: EncodeID(parentID, childID, slug),
		ParentID:       parentID,
		ChildID:        childID,
		RelationSlug:   slug,
	}
}
