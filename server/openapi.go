package server

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

const schemaRefPrefix = "#/components/schemas/"

// newAPIDocument describes the objects API
func newAPIDocument() *openapi3.T {
	storedObject := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewStringSchema()).
		WithProperty("title", openapi3.NewStringSchema()).
		WithProperty("description", openapi3.NewStringSchema()).
		WithProperty("imageUrl", openapi3.NewStringSchema()).
		WithProperty("storageKey", openapi3.NewStringSchema()).
		WithProperty("createdAt", openapi3.NewDateTimeSchema())
	storedObject.Required = []string{"id", "title", "imageUrl", "storageKey", "createdAt"}

	errorSchema := openapi3.NewObjectSchema().
		WithProperty("statusCode", openapi3.NewIntegerSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("error", openapi3.NewStringSchema())
	errorSchema.Required = []string{"statusCode", "message", "error"}

	deleteResult := openapi3.NewObjectSchema().
		WithProperty("deleted", openapi3.NewBoolSchema())
	deleteResult.Required = []string{"deleted"}

	createForm := openapi3.NewObjectSchema().
		WithProperty("title", openapi3.NewStringSchema().WithMaxLength(maxTitleLength)).
		WithProperty("description", openapi3.NewStringSchema().WithMaxLength(maxDescriptionLength)).
		WithProperty(fileField, openapi3.NewStringSchema().WithFormat("binary"))
	createForm.Required = []string{"title", fileField}

	objectRef := openapi3.NewSchemaRef(schemaRefPrefix+"StoredObject", storedObject)
	errorRef := openapi3.NewSchemaRef(schemaRefPrefix+"Error", errorSchema)

	jsonResponse := func(description string, schema *openapi3.SchemaRef) *openapi3.ResponseRef {
		return &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription(description).WithJSONSchemaRef(schema),
		}
	}
	errorResponse := func(status int) *openapi3.ResponseRef {
		return jsonResponse(http.StatusText(status), errorRef)
	}

	idParameter := openapi3.Parameters{
		{Value: openapi3.NewPathParameter("id").
			WithDescription("object id").
			WithSchema(openapi3.NewStringSchema())},
	}

	objects := &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "createObject",
			Summary:     "Create an object from a title, an optional description and an image",
			Tags:        []string{"objects"},
			RequestBody: &openapi3.RequestBodyRef{
				Value: openapi3.NewRequestBody().
					WithRequired(true).
					WithContent(openapi3.NewContentWithSchema(createForm, []string{"multipart/form-data"})),
			},
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusCreated, jsonResponse("Created object", objectRef)),
				openapi3.WithStatus(http.StatusBadRequest, errorResponse(http.StatusBadRequest)),
				openapi3.WithStatus(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError)),
			),
		},
		Get: &openapi3.Operation{
			OperationID: "listObjects",
			Summary:     "List all objects, newest first",
			Tags:        []string{"objects"},
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("Objects", openapi3.NewArraySchema().WithItems(storedObject).NewRef())),
				openapi3.WithStatus(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError)),
			),
		},
	}

	object := &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "getObject",
			Summary:     "Get one object",
			Tags:        []string{"objects"},
			Parameters:  idParameter,
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("Object", objectRef)),
				openapi3.WithStatus(http.StatusNotFound, errorResponse(http.StatusNotFound)),
				openapi3.WithStatus(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError)),
			),
		},
		Delete: &openapi3.Operation{
			OperationID: "deleteObject",
			Summary:     "Delete an object and, best effort, its image",
			Tags:        []string{"objects"},
			Parameters:  idParameter,
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("Deleted", deleteResult.NewRef())),
				openapi3.WithStatus(http.StatusNotFound, errorResponse(http.StatusNotFound)),
				openapi3.WithStatus(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError)),
			),
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{
		"StoredObject": storedObject.NewRef(),
		"Error":        errorSchema.NewRef(),
	}

	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Objects API",
			Description: "Titled objects with an uploaded image",
			Version:     "1.0",
		},
		Tags: openapi3.Tags{
			{Name: "objects"},
		},
		Paths: openapi3.NewPaths(
			openapi3.WithPath("/objects", objects),
			openapi3.WithPath("/objects/{id}", object),
		),
		Components: &components,
	}
}
