package openapi

import (
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/cptrest/cptrest/internal/catalog"
	"github.com/cptrest/cptrest/internal/model"
)

// Version is the API version advertised in generated documents.
const Version = "1.0.0"

// Input holds everything a document is generated from. It is rebuilt for
// every request so the document always reflects the current state.
type Input struct {
	Plan      catalog.Plan
	Types     []model.PostType    // descriptors of the active types
	Meta      map[string][]string // registered meta keys per type
	PublicURL string              // scheme and host, without the namespace
}

// Generate builds an OpenAPI 3 document for the planned routes.
func Generate(in Input) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Custom Post Types REST API",
			Description: "REST endpoints for the custom post types activated on this site. Authenticate with an API key as a bearer token.",
			Version:     Version,
		},
		Servers: openapi3.Servers{
			{URL: strings.TrimRight(in.PublicURL, "/") + in.Plan.Prefix()},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "API Key",
			Description:  "API key issued by a site administrator.",
		},
	}
	doc.Security = openapi3.SecurityRequirements{{"bearerAuth": {}}}

	doc.Components.Schemas["Error"] = errorSchema()
	doc.Components.Schemas["Pagination"] = paginationSchema()

	doc.Paths = openapi3.NewPaths()

	labels := map[string]model.PostType{}
	for _, pt := range in.Types {
		labels[pt.Name] = pt
	}

	for _, r := range catalog.PlanRoutes(in.Plan) {
		path := docPath(in.Plan.Prefix(), r.Pattern)
		if path == "" {
			continue // "/" documents the namespace root
		}
		item := doc.Paths.Value(path)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(path, item)
		}
		var op *openapi3.Operation
		switch r.Op {
		case catalog.OpNamespace:
			op = namespaceOperation()
		case catalog.OpOpenAPI:
			op = openapiOperation()
		case catalog.OpListPosts, catalog.OpCreatePost, catalog.OpGetPost, catalog.OpUpdatePost, catalog.OpDeletePost:
			ensurePostSchemas(doc, r.PostType, in.Meta[r.PostType])
			op = postOperation(r, labels[r.PostType])
		default:
			ensureRelationSchemas(doc)
			op = relationOperation(r)
		}
		if r.Auth == catalog.AuthOptional {
			op.Security = &openapi3.SecurityRequirements{}
		}
		item.SetOperation(r.Method, op)
	}
	return doc
}

// docPath converts a chi route pattern to an OpenAPI path relative to the
// server URL.
func docPath(prefix, pattern string) string {
	p := strings.TrimPrefix(pattern, prefix)
	p = strings.ReplaceAll(p, "{id:[0-9]+}", "{id}")
	return p
}

func schemaName(postType string) string {
	var b strings.Builder
	upper := true
	for _, r := range postType {
		switch {
		case r == '-' || r == '_':
			upper = true
		case upper:
			b.WriteString(strings.ToUpper(string(r)))
			upper = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func ensurePostSchemas(doc *openapi3.T, postType string, metaKeys []string) {
	name := schemaName(postType)
	if _, ok := doc.Components.Schemas[name]; ok {
		return
	}

	meta := &openapi3.Schema{
		Type:        &openapi3.Types{"object"},
		Description: "Custom fields. Keys starting with an underscore are ignored.",
	}
	if len(metaKeys) > 0 {
		meta.Properties = openapi3.Schemas{}
		for _, k := range metaKeys {
			meta.Properties[k] = &openapi3.SchemaRef{Value: &openapi3.Schema{}}
		}
	}

	str := func() *openapi3.SchemaRef { return openapi3.NewStringSchema().NewRef() }
	intg := func() *openapi3.SchemaRef { return openapi3.NewInt64Schema().NewRef() }
	date := func() *openapi3.SchemaRef { return openapi3.NewDateTimeSchema().NewRef() }

	doc.Components.Schemas[name] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"id":             intg(),
			"title":          str(),
			"content":        str(),
			"excerpt":        str(),
			"slug":           str(),
			"status":         str(),
			"type":           str(),
			"date":           date(),
			"modified":       date(),
			"author":         intg(),
			"featured_media": intg(),
			"meta":           &openapi3.SchemaRef{Value: meta},
		},
	}}

	doc.Components.Schemas[name+"Input"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"title":   str(),
			"content": str(),
			"excerpt": str(),
			"status": &openapi3.SchemaRef{Value: openapi3.NewStringSchema().WithEnum(
				model.StatusPublish, model.StatusDraft, model.StatusPrivate, model.StatusPending)},
			"meta": &openapi3.SchemaRef{Value: meta},
		},
		AdditionalProperties: openapi3.AdditionalProperties{Has: boolPtr(true)},
		Description:          "Unrecognised top-level fields are stored as custom fields.",
	}}

	doc.Components.Schemas[name+"List"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"posts": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: ref(name),
			}},
			"pagination": ref("Pagination"),
		},
	}}
}

func postOperation(r catalog.RouteSpec, pt model.PostType) *openapi3.Operation {
	name := schemaName(r.PostType)
	label := pt.Label
	if label == "" {
		label = r.PostType
	}
	op := &openapi3.Operation{
		Tags:        []string{r.PostType},
		OperationID: fmt.Sprintf("%s_%s_%s", r.Op, r.PostType, strings.ToLower(r.Method)),
		Description: pt.Description,
	}
	idParam := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("id").
		WithSchema(openapi3.NewInt64Schema()).WithDescription("Post id.")}

	switch r.Op {
	case catalog.OpListPosts:
		op.Summary = "List published " + label
		op.Parameters = openapi3.Parameters{
			{Value: openapi3.NewQueryParameter("per_page").
				WithDescription("Posts per page, 1 to 100.").
				WithSchema(openapi3.NewIntegerSchema().WithMin(1).WithMax(100).WithDefault(10))},
			{Value: openapi3.NewQueryParameter("page").
				WithDescription("Page number.").
				WithSchema(openapi3.NewIntegerSchema().WithMin(1).WithDefault(1))},
		}
		op.Responses = newResponses("200", "A page of posts", ref(name+"List"))
	case catalog.OpCreatePost:
		op.Summary = "Create " + label
		op.RequestBody = jsonBody(ref(name + "Input"))
		op.Responses = newResponses("201", "The created post", ref(name))
	case catalog.OpGetPost:
		op.Summary = "Get one " + label
		op.Parameters = openapi3.Parameters{idParam}
		op.Responses = newResponses("200", "The post", ref(name))
	case catalog.OpUpdatePost:
		op.Summary = "Update " + label
		op.Parameters = openapi3.Parameters{idParam}
		op.RequestBody = jsonBody(ref(name + "Input"))
		op.Responses = newResponses("200", "The updated post", ref(name))
	case catalog.OpDeletePost:
		op.Summary = "Delete " + label + " permanently"
		op.Parameters = openapi3.Parameters{idParam}
		op.Responses = newResponses("200", "The deleted post", ref(name))
	}
	return op
}

func ensureRelationSchemas(doc *openapi3.T) {
	if _, ok := doc.Components.Schemas["Relationship"]; ok {
		return
	}
	strs := &openapi3.SchemaRef{Value: openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())}
	doc.Components.Schemas["Relationship"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"slug":         openapi3.NewStringSchema().NewRef(),
			"name":         openapi3.NewStringSchema().NewRef(),
			"parent_types": strs,
			"child_types":  strs,
			"cardinality": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type: &openapi3.Types{"object"},
				Properties: openapi3.Schemas{
					"parent_max": openapi3.NewIntegerSchema().NewRef(),
					"child_max":  openapi3.NewIntegerSchema().NewRef(),
				},
			}},
			"is_active": openapi3.NewBoolSchema().NewRef(),
		},
	}}
	doc.Components.Schemas["RelationshipInstance"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"relationship_id": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type:        &openapi3.Types{"string"},
				Description: "Base64 of parent:child:slug. Derivable by anyone, not a secret.",
			}},
			"parent_id":     openapi3.NewInt64Schema().NewRef(),
			"child_id":      openapi3.NewInt64Schema().NewRef(),
			"relation_slug": openapi3.NewStringSchema().NewRef(),
		},
	}}
}

func relationOperation(r catalog.RouteSpec) *openapi3.Operation {
	op := &openapi3.Operation{Tags: []string{"relations"}, OperationID: string(r.Op)}
	slug := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("slug").
		WithSchema(openapi3.NewStringSchema()).WithDescription("Relationship slug.")}

	switch r.Op {
	case catalog.OpListRelations:
		op.Summary = "List relationship definitions"
		op.Responses = newResponses("200", "Relationship definitions", &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"relationships": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: ref("Relationship")}},
				"count":         openapi3.NewIntegerSchema().NewRef(),
			},
		}})
	case catalog.OpListInstances:
		op.Summary = "List relationship instances"
		op.Parameters = openapi3.Parameters{slug}
		op.Responses = newResponses("200", "Relationship instances", &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"relation_slug": openapi3.NewStringSchema().NewRef(),
				"instances":     &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: ref("RelationshipInstance")}},
				"count":         openapi3.NewIntegerSchema().NewRef(),
			},
		}})
	case catalog.OpCreateInstance:
		op.Summary = "Create a relationship instance"
		op.Parameters = openapi3.Parameters{slug}
		op.RequestBody = jsonBody(&openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"parent_id", "child_id"},
			Properties: openapi3.Schemas{
				"parent_id": openapi3.NewInt64Schema().NewRef(),
				"child_id":  openapi3.NewInt64Schema().NewRef(),
			},
		}})
		op.Responses = newResponses("201", "The created instance", ref("RelationshipInstance"))
		addResponse(op.Responses, "409", "Instance already exists")
	case catalog.OpDeleteInstance:
		op.Summary = "Delete a relationship instance"
		op.Parameters = openapi3.Parameters{slug, {Value: openapi3.NewPathParameter("relationship_id").
			WithSchema(openapi3.NewStringSchema())}}
		op.Responses = newResponses("200", "Deletion result", &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"deleted":         openapi3.NewBoolSchema().NewRef(),
				"relationship_id": openapi3.NewStringSchema().NewRef(),
			},
		}})
	}
	addResponse(op.Responses, "503", "Relationship support unavailable")
	return op
}

func namespaceOperation() *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{"discovery"},
		Summary:     "Describe the namespace",
		OperationID: "namespace",
		Responses: newResponses("200", "Namespace description", &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"namespace":   openapi3.NewStringSchema().NewRef(),
				"description": openapi3.NewStringSchema().NewRef(),
				"version":     openapi3.NewStringSchema().NewRef(),
			},
		}}),
	}
}

func openapiOperation() *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{"discovery"},
		Summary:     "This OpenAPI document",
		OperationID: "openapi",
		Responses: newResponses("200", "OpenAPI document", &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
		}}),
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func boolPtr(b bool) *bool { return &b }

func jsonBody(schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
		Required: true,
		Content:  openapi3.NewContentWithJSONSchemaRef(schema),
	}}
}

// newResponses builds a Responses map with a success response and the error
// responses every protected route can produce.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()
	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})
	responses.Delete("default")
	for _, e := range []struct{ code, desc string }{
		{"400", "Bad request"},
		{"401", "No API key supplied"},
		{"403", "Invalid API key or operation not allowed"},
		{"404", "Not found"},
		{"500", "Internal server error"},
	} {
		addResponse(responses, e.code, e.desc)
	}
	return responses
}

func addResponse(responses *openapi3.Responses, code, desc string) {
	d := desc
	responses.Set(code, &openapi3.ResponseRef{Value: &openapi3.Response{
		Description: &d,
		Content:     openapi3.NewContentWithJSONSchemaRef(ref("Error")),
	}})
}

func errorSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"error": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type: &openapi3.Types{"object"},
				Properties: openapi3.Schemas{
					"code":    openapi3.NewStringSchema().NewRef(),
					"message": openapi3.NewStringSchema().NewRef(),
					"status":  openapi3.NewInt32Schema().NewRef(),
				},
			}},
		},
	}}
}

func paginationSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"total":        openapi3.NewInt64Schema().NewRef(),
			"pages":        openapi3.NewInt64Schema().NewRef(),
			"current_page": openapi3.NewInt32Schema().NewRef(),
			"per_page":     openapi3.NewInt32Schema().NewRef(),
		},
	}}
}
