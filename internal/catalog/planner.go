package catalog

import "net/http"

// Op identifies the handler a planned route dispatches to.
type Op string

const (
	OpNamespace      Op = "namespace"
	OpOpenAPI        Op = "openapi"
	OpListPosts      Op = "list_posts"
	OpCreatePost     Op = "create_post"
	OpGetPost        Op = "get_post"
	OpUpdatePost     Op = "update_post"
	OpDeletePost     Op = "delete_post"
	OpListRelations  Op = "list_relations"
	OpListInstances  Op = "list_instances"
	OpCreateInstance Op = "create_instance"
	OpDeleteInstance Op = "delete_instance"
)

// Auth is the advertised permission requirement of a route.
type Auth int

const (
	AuthOptional Auth = iota
	AuthRequired
)

// RouteSpec is one planned route. Pattern is relative to the mount point
// and uses chi syntax.
type RouteSpec struct {
	Method   string
	Pattern  string
	Op       Op
	PostType string
	Auth     Auth
}

// Plan is the input of PlanRoutes.
type Plan struct {
	Segment          string
	ActiveTypes      []string
	RelationsEnabled bool
}

// Namespace returns the route namespace, e.g. "cpt/v1".
func (p Plan) Namespace() string {
	return p.Segment + "/v1"
}

// Prefix returns the absolute path prefix of the namespace, e.g. "/cpt/v1".
func (p Plan) Prefix() string {
	return "/" + p.Namespace()
}

// PlanRoutes emits the route table for a configuration snapshot. It is a
// pure function: the same plan always yields the same routes.
func PlanRoutes(p Plan) []RouteSpec {
	prefix := p.Prefix()
	routes := []RouteSpec{
		{Method: http.MethodGet, Pattern: prefix, Op: OpNamespace, Auth: AuthOptional},
		{Method: http.MethodGet, Pattern: prefix + "/", Op: OpNamespace, Auth: AuthOptional},
		{Method: http.MethodGet, Pattern: prefix + "/openapi", Op: OpOpenAPI, Auth: AuthOptional},
	}

	for _, pt := range p.ActiveTypes {
		if pt == "openapi" || (pt == "relations" && p.RelationsEnabled) {
			continue // shadowed by a fixed route
		}
		collection := prefix + "/" + pt
		item := collection + "/{id:[0-9]+}"
		routes = append(routes,
			RouteSpec{Method: http.MethodGet, Pattern: collection, Op: OpListPosts, PostType: pt, Auth: AuthRequired},
			RouteSpec{Method: http.MethodPost, Pattern: collection, Op: OpCreatePost, PostType: pt, Auth: AuthRequired},
			RouteSpec{Method: http.MethodGet, Pattern: item, Op: OpGetPost, PostType: pt, Auth: AuthRequired},
			RouteSpec{Method: http.MethodPut, Pattern: item, Op: OpUpdatePost, PostType: pt, Auth: AuthRequired},
			RouteSpec{Method: http.MethodPatch, Pattern: item, Op: OpUpdatePost, PostType: pt, Auth: AuthRequired},
			RouteSpec{Method: http.MethodDelete, Pattern: item, Op: OpDeletePost, PostType: pt, Auth: AuthRequired},
		)
	}

	if p.RelationsEnabled {
		rel := prefix + "/relations"
		routes = append(routes,
			RouteSpec{Method: http.MethodGet, Pattern: rel, Op: OpListRelations, Auth: AuthRequired},
			RouteSpec{Method: http.MethodGet, Pattern: rel + "/{slug}", Op: OpListInstances, Auth: AuthRequired},
			RouteSpec{Method: http.MethodPost, Pattern: rel + "/{slug}", Op: OpCreateInstance, Auth: AuthRequired},
			RouteSpec{Method: http.MethodDelete, Pattern: rel + "/{slug}/{relationship_id}", Op: OpDeleteInstance, Auth: AuthRequired},
		)
	}
	return routes
}
