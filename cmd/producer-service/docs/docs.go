// Package docs holds the OpenAPI description served under /swagger.
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
        "/messages": {
            "get": {
                "produces": ["application/json"],
                "tags": ["messages"],
                "summary": "List messages by status",
                "parameters": [
                    {"type": "string", "description": "Pending, Sent, Acknowledged, Failed or Expired", "name": "status", "in": "query", "required": true},
                    {"type": "integer", "description": "Maximum rows", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/outbox.Message"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["messages"],
                "summary": "Enqueue a message",
                "description": "Creates one outbox row per active consumer group of the topic",
                "parameters": [
                    {"description": "Message", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/outbox.EnqueueRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/outbox.EnqueueResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/messages/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["messages"],
                "summary": "Get a message",
                "parameters": [
                    {"type": "string", "description": "Message ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/outbox.Message"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/messages/{id}/acknowledge": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["messages"],
                "summary": "Acknowledge a delivery",
                "parameters": [
                    {"type": "string", "description": "Message ID", "name": "id", "in": "path", "required": true},
                    {"description": "Verdict", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/outbox.AcknowledgeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/outbox.AcknowledgeResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["messages"],
                "summary": "Row counts per status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/outbox.Stats"}}
                }
            }
        }
    },
    "definitions": {
        "errors.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "error_code": {"type": "string"},
                "retryable": {"type": "boolean"},
                "details": {"type": "object", "additionalProperties": true}
            }
        },
        "outbox.EnqueueRequest": {
            "type": "object",
            "required": ["payload", "topic"],
            "properties": {
                "topic": {"type": "string"},
                "payload": {"type": "string"},
                "idempotency_key": {"type": "string"}
            }
        },
        "outbox.EnqueueResult": {
            "type": "object",
            "properties": {
                "message_id": {"type": "string"},
                "status": {"type": "string"},
                "target_groups": {"type": "array", "items": {"type": "string"}},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/outbox.Message"}}
            }
        },
        "outbox.AcknowledgeRequest": {
            "type": "object",
            "required": ["consumer_group"],
            "properties": {
                "consumer_group": {"type": "string"},
                "success": {"type": "boolean"},
                "error_message": {"type": "string"}
            }
        },
        "outbox.AcknowledgeResponse": {
            "type": "object",
            "properties": {
                "message_id": {"type": "string"},
                "status": {"type": "string"}
            }
        },
        "outbox.Message": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "topic": {"type": "string"},
                "payload": {"type": "string"},
                "consumer_group": {"type": "string"},
                "status": {"type": "string"},
                "idempotency_key": {"type": "string"},
                "is_retry": {"type": "boolean"},
                "producer_service_id": {"type": "string"},
                "producer_instance_id": {"type": "string"},
                "original_message_id": {"type": "string"},
                "retry_count": {"type": "integer"},
                "target_consumer_service_id": {"type": "string"},
                "error_message": {"type": "string"},
                "created_at": {"type": "string"},
                "processed_at": {"type": "string"},
                "scheduled_retry_at": {"type": "string"},
                "last_retry_at": {"type": "string"}
            }
        },
        "outbox.Stats": {
            "type": "object",
            "properties": {
                "counts": {"type": "object", "additionalProperties": {"type": "integer"}},
                "total": {"type": "integer"}
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
	Title:            "Herald Producer API",
	Description:      "Transactional outbox: enqueue messages for registered consumer groups and receive their acknowledgments",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
