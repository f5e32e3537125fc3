// Package docs holds the OpenAPI description served at /swagger/doc.json.
// Keep it in step with the handler annotations in the http package.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "Sercha OSS",
            "url": "https://github.com/custodia-labs/sercha-poller/issues"
        },
        "license": {
            "name": "Apache 2.0",
            "url": "http://www.apache.org/licenses/LICENSE-2.0.html"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {
            "description": "JWT Bearer token. Format: \"Bearer {token}\"",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/auth/tokens": {
            "post": {
                "tags": ["auth"],
                "summary": "Issue an API token",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/IssueTokenRequest"}}],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            }
        },
        "/me": {
            "get": {
                "tags": ["auth"],
                "summary": "Describe the calling token",
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            }
        },
        "/subscriptions": {
            "get": {
                "tags": ["subscriptions"],
                "summary": "List subscriptions",
                "parameters": [{"in": "query", "name": "application_id", "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/Subscription"}}}}
            },
            "post": {
                "tags": ["subscriptions"],
                "summary": "Create a subscription",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/CreateSubscriptionRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/Subscription"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            }
        },
        "/subscriptions/{id}": {
            "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
            "get": {
                "tags": ["subscriptions"],
                "summary": "Get a subscription",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Subscription"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            },
            "patch": {
                "tags": ["subscriptions"],
                "summary": "Update a subscription",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"type": "object"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Subscription"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            },
            "delete": {
                "tags": ["subscriptions"],
                "summary": "Delete a subscription and its watermarks",
                "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            }
        },
        "/subscriptions/{id}/authorization": {
            "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
            "put": {
                "tags": ["subscriptions"],
                "summary": "Store credentials after verifying them against the source",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/Credentials"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Subscription"}}, "502": {"description": "Source rejected the credentials", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            }
        },
        "/subscriptions/{id}/watermarks": {
            "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
            "get": {
                "tags": ["watermarks"],
                "summary": "List per-entity watermarks",
                "responses": {"200": {"description": "OK"}}
            },
            "delete": {
                "tags": ["watermarks"],
                "summary": "Reset watermarks so the next poll takes a fresh snapshot",
                "parameters": [{"in": "query", "name": "entity", "type": "string"}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/subscriptions/{id}/poll": {
            "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
            "post": {
                "tags": ["polls"],
                "summary": "Enqueue an immediate poll",
                "responses": {"202": {"description": "Accepted"}, "409": {"description": "Subscription disabled", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            }
        },
        "/subscriptions/{id}/records/{entity}": {
            "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}, {"in": "path", "name": "entity", "required": true, "type": "string"}],
            "post": {
                "tags": ["records"],
                "summary": "Create or update records in the source",
                "parameters": [{"in": "body", "name": "records", "required": true, "schema": {"type": "array", "items": {"type": "object"}}}],
                "responses": {"200": {"description": "OK"}, "502": {"description": "Source rejected the login", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            }
        },
        "/subscriptions/{id}/query": {
            "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
            "get": {
                "tags": ["records"],
                "summary": "Run a source query and return every page",
                "parameters": [{"in": "query", "name": "q", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Missing query", "schema": {"$ref": "#/definitions/ErrorResponse"}}, "502": {"description": "Source rejected the login", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            }
        },
        "/tasks": {
            "get": {
                "tags": ["tasks"],
                "summary": "List poll tasks",
                "parameters": [
                    {"in": "query", "name": "status", "type": "string", "enum": ["pending", "processing", "completed", "failed", "cancelled"]},
                    {"in": "query", "name": "limit", "type": "integer", "minimum": 1, "maximum": 500},
                    {"in": "query", "name": "offset", "type": "integer", "minimum": 0}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            }
        },
        "/tasks/{id}": {
            "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
            "get": {
                "tags": ["tasks"],
                "summary": "Get a task",
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            },
            "delete": {
                "tags": ["tasks"],
                "summary": "Cancel a pending task",
                "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}, "409": {"description": "Task not pending", "schema": {"$ref": "#/definitions/ErrorResponse"}}}
            }
        },
        "/queue/stats": {
            "get": {
                "tags": ["tasks"],
                "summary": "Task queue statistics",
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "Credentials": {
            "type": "object",
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"},
                "security_token": {"type": "string"},
                "login_url": {"type": "string"}
            }
        },
        "IssueTokenRequest": {
            "type": "object",
            "required": ["subject", "role"],
            "properties": {
                "subject": {"type": "string"},
                "role": {"type": "string", "enum": ["admin", "operator", "viewer"]},
                "application_id": {"type": "string"},
                "ttl_hours": {"type": "integer", "minimum": 1, "maximum": 8760}
            }
        },
        "CreateSubscriptionRequest": {
            "type": "object",
            "required": ["name", "application_id", "connector_key", "provider_type", "credentials"],
            "properties": {
                "name": {"type": "string"},
                "application_id": {"type": "string"},
                "connector_key": {"type": "string"},
                "provider_type": {"type": "string", "enum": ["salesforce"]},
                "credentials": {"$ref": "#/definitions/Credentials"}
            }
        },
        "Subscription": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "application_id": {"type": "string"},
                "connector_key": {"type": "string"},
                "provider_type": {"type": "string"},
                "enabled": {"type": "boolean"},
                "next_poll_at": {"type": "string", "format": "date-time"},
                "last_poll_at": {"type": "string", "format": "date-time"},
                "last_poll_error": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Sercha Poller API",
	Description:      "Change-reconciliation poller. Polls remote sources on a schedule and emits created, updated and deleted events per subscription.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
