// Package docs is generated by swaggo/swag from the handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/auth/token": {
            "post": {
                "description": "Exchange the admin password for a bearer token scoped to the trigger API",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Issue an access token",
                "parameters": [
                    {
                        "description": "Admin password",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/ports.TokenRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ports.TokenResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/api/v1/owners/{owner}/tasks": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Active tasks or notes of one owner in creation order",
                "produces": ["application/json"],
                "tags": ["tasks"],
                "summary": "List an owner's active tasks",
                "parameters": [
                    {"type": "string", "description": "Owner ID", "name": "owner", "in": "path", "required": true},
                    {"enum": ["task", "note"], "type": "string", "description": "task or note", "name": "kind", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ports.ListTasksResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/api/v1/scan": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Scan all owners, or only owner_id when given, and deliver due reminders",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["scanner"],
                "summary": "Run the due-task scanner",
                "parameters": [
                    {
                        "description": "Optional owner scope",
                        "name": "request",
                        "in": "body",
                        "schema": {"$ref": "#/definitions/ports.ScanRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.ScanReport"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/webhook/telegram": {
            "post": {
                "description": "Handle one Bot API update. A non-2xx response makes Telegram redeliver it.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["webhook"],
                "summary": "Telegram webhook",
                "parameters": [
                    {
                        "description": "Bot API update",
                        "name": "update",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/telegram.Update"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.Reply"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "entities.Task": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "owner_id": {"type": "string"},
                "kind": {"type": "string", "enum": ["task", "note"]},
                "description": {"type": "string"},
                "priority": {"type": "string", "enum": ["low", "medium", "high"]},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "due_at": {"type": "string"},
                "due_phrase": {"type": "string"},
                "timezone": {"type": "string"},
                "state": {"type": "string", "enum": ["pending", "notified", "acknowledged", "cancelled", "completed", "failed"]},
                "notification_attempts": {"type": "integer"},
                "last_attempt_at": {"type": "string"},
                "delivered_at": {"type": "string"},
                "last_error": {"type": "string"},
                "failure_reported_at": {"type": "string"}
            }
        },
        "http.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "details": {"type": "string"}
            }
        },
        "ports.ListTasksResponse": {
            "type": "object",
            "properties": {
                "owner_id": {"type": "string"},
                "tasks": {"type": "array", "items": {"$ref": "#/definitions/entities.Task"}},
                "total": {"type": "integer"}
            }
        },
        "ports.ScanRequest": {
            "type": "object",
            "properties": {
                "owner_id": {"type": "string", "maxLength": 64}
            }
        },
        "ports.TokenRequest": {
            "type": "object",
            "required": ["password"],
            "properties": {
                "password": {"type": "string", "minLength": 8}
            }
        },
        "ports.TokenResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "token_type": {"type": "string"},
                "expires_in": {"type": "integer"}
            }
        },
        "services.Reply": {
            "type": "object",
            "properties": {
                "chat_id": {"type": "string"},
                "text": {"type": "string"},
                "intent": {"type": "string"},
                "duplicate": {"type": "boolean"}
            }
        },
        "services.ScanReport": {
            "type": "object",
            "properties": {
                "candidates": {"type": "integer"},
                "claimed": {"type": "integer"},
                "delivered": {"type": "integer"},
                "retrying": {"type": "integer"},
                "failed": {"type": "integer"},
                "skipped": {"type": "integer"},
                "recovered": {"type": "integer"}
            }
        },
        "telegram.Update": {
            "type": "object",
            "properties": {
                "update_id": {"type": "integer"},
                "message": {"type": "object"},
                "edited_message": {"type": "object"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "Telemind API",
	Description:      "Task and reminder engine behind the Telemind chat assistant",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
