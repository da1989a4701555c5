// Package swagger registers the OpenAPI description served under /swagger.
// Regenerate with: swag init -g cmd/avoproxy-server/main.go -o api/swagger
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "tags": ["health"],
                "summary": "Health check",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/auth/{idp}/login": {
            "get": {
                "tags": ["auth"],
                "summary": "Start a login at an identity provider",
                "parameters": [
                    {"type": "string", "enum": ["hetarchief", "smartschool", "klascement"], "name": "idp", "in": "path", "required": true},
                    {"type": "string", "name": "returnToUrl", "in": "query"}
                ],
                "responses": {"302": {"description": "Redirect to the identity provider"}}
            }
        },
        "/auth/{idp}/login-callback": {
            "post": {
                "tags": ["auth"],
                "summary": "Complete a login (SAML POST binding)",
                "parameters": [{"type": "string", "name": "idp", "in": "path", "required": true}],
                "responses": {"302": {"description": "Redirect to the client or its error page"}}
            },
            "get": {
                "tags": ["auth"],
                "summary": "Complete a login (authorization code)",
                "parameters": [
                    {"type": "string", "name": "idp", "in": "path", "required": true},
                    {"type": "string", "name": "code", "in": "query"},
                    {"type": "string", "name": "state", "in": "query"}
                ],
                "responses": {"302": {"description": "Redirect to the client or its error page"}}
            }
        },
        "/auth/{idp}/logout": {
            "get": {
                "tags": ["auth"],
                "summary": "Log out of one identity provider",
                "parameters": [
                    {"type": "string", "name": "idp", "in": "path", "required": true},
                    {"type": "string", "name": "returnToUrl", "in": "query"}
                ],
                "responses": {"302": {"description": "Redirect"}}
            }
        },
        "/auth/check-login": {
            "get": {
                "tags": ["auth"],
                "summary": "Report the login state of the session",
                "produces": ["application/json"],
                "responses": {"200": {"description": "LOGGED_IN with userInfo, or LOGGED_OUT"}}
            }
        },
        "/auth/global-logout": {
            "get": {
                "tags": ["auth"],
                "summary": "Log out of every identity provider and drop the session",
                "parameters": [{"type": "string", "name": "returnToUrl", "in": "query"}],
                "responses": {"302": {"description": "Redirect"}}
            }
        },
        "/auth/link-account": {
            "get": {
                "tags": ["auth"],
                "summary": "Link another identity provider to the logged in user",
                "parameters": [
                    {"type": "string", "name": "idpType", "in": "query", "required": true},
                    {"type": "string", "name": "returnToUrl", "in": "query"}
                ],
                "responses": {"302": {"description": "Redirect to the identity provider"}, "401": {"description": "Not logged in"}}
            }
        },
        "/auth/unlink-account": {
            "get": {
                "tags": ["auth"],
                "summary": "Remove a linked identity provider",
                "parameters": [
                    {"type": "string", "name": "idpType", "in": "query", "required": true},
                    {"type": "string", "name": "returnToUrl", "in": "query"}
                ],
                "responses": {"302": {"description": "Redirect"}, "400": {"description": "Active identity provider"}, "404": {"description": "Not linked"}}
            }
        },
        "/data": {
            "post": {
                "tags": ["data"],
                "summary": "Run a whitelisted GraphQL operation",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/data.QueryRequest"}}],
                "responses": {
                    "200": {"description": "Upstream response"},
                    "400": {"description": "Not whitelisted"},
                    "403": {"description": "Denied by the permission gate"}
                }
            }
        },
        "/data/server": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "tags": ["data"],
                "summary": "Run a whitelisted server GraphQL operation",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/data.QueryRequest"}}],
                "responses": {"200": {"description": "Upstream response"}, "401": {"description": "Invalid api key"}}
            }
        },
        "/search": {
            "post": {
                "tags": ["search"],
                "summary": "Forward a search request to the search backend",
                "consumes": ["application/json"],
                "responses": {"200": {"description": "Search response"}, "403": {"description": "Missing SEARCH permission"}}
            }
        },
        "/profile/education-levels": {
            "patch": {
                "tags": ["profile"],
                "summary": "Update the education levels of the logged in user",
                "responses": {"200": {"description": "Levels and resulting groups"}}
            }
        },
        "/profile/stamp": {
            "post": {
                "tags": ["profile"],
                "summary": "Store a stamp number and send its verification link",
                "responses": {"202": {"description": "Verification link sent"}, "400": {"description": "Invalid stamp number"}}
            }
        },
        "/profile/verify-stamp": {
            "get": {
                "tags": ["profile"],
                "summary": "Verify a stamp number from the emailed link",
                "parameters": [{"type": "string", "name": "code", "in": "query", "required": true}],
                "responses": {"302": {"description": "Redirect to the profile page or the error page"}}
            }
        },
        "/profile/accept-conditions": {
            "post": {
                "tags": ["profile"],
                "summary": "Accept the terms of use",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/user-groups": {
            "get": {
                "tags": ["user-groups"],
                "summary": "List permission groups",
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/groups.GroupResponse"}}}}
            }
        },
        "/user-groups/{id}/members": {
            "post": {
                "tags": ["user-groups"],
                "summary": "Add a group member",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/groups.AddMemberRequest"}}
                ],
                "responses": {"201": {"description": "Created"}, "409": {"description": "Group is IdP managed or user is already a member"}}
            }
        },
        "/user-groups/{id}/members/{userId}": {
            "delete": {
                "tags": ["user-groups"],
                "summary": "Remove a group member",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "name": "userId", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Member not found"}, "409": {"description": "Group is IdP managed"}}
            }
        },
        "/admin/users": {
            "get": {
                "tags": ["admin"],
                "summary": "List users",
                "parameters": [
                    {"type": "string", "name": "q", "in": "query"},
                    {"type": "boolean", "name": "blocked", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/users/{id}/block": {
            "patch": {
                "tags": ["admin"],
                "summary": "Block or unblock a user",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/admin.BlockRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Cannot block yourself"}, "404": {"description": "User not found"}}
            }
        },
        "/admin/permission-groups/seed": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "tags": ["admin"],
                "summary": "Seed permission groups",
                "responses": {"200": {"description": "OK"}, "401": {"description": "Invalid api key"}}
            }
        }
    },
    "definitions": {
        "data.QueryRequest": {
            "type": "object",
            "required": ["query"],
            "properties": {
                "query": {"type": "string"},
                "variables": {"type": "object", "additionalProperties": true}
            }
        },
        "groups.GroupResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "key": {"type": "string"},
                "label": {"type": "string"},
                "idp_role": {"type": "string"},
                "idp_managed": {"type": "boolean"},
                "permissions": {"type": "array", "items": {"type": "string"}},
                "member_count": {"type": "integer"}
            }
        },
        "groups.AddMemberRequest": {
            "type": "object",
            "required": ["user_id"],
            "properties": {"user_id": {"type": "integer"}}
        },
        "admin.BlockRequest": {
            "type": "object",
            "required": ["blocked"],
            "properties": {"blocked": {"type": "boolean"}}
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "description": "Proxy api key. Format: \"Bearer {key}\"",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "AvO Proxy API",
	Description:      "Backend for the educational media platform: logins, whitelisted data access and search.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
