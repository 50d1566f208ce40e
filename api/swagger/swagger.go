package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "ClassCare Support API",
        "description": "Student support request service with usage quotas and bulk teacher onboarding",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login, token refresh and password management"},
        {"name": "Usage", "description": "Monthly allowance checks and package purchases"},
        {"name": "Referrals", "description": "Student support requests and AI suggestions"},
        {"name": "Admin", "description": "Teacher account management and bulk import"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Logout current session",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/auth/change-password": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Change password",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Get current user profile",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/usage/check-limit": {
            "get": {
                "tags": ["Usage"],
                "summary": "Check monthly allowance",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/QuotaStatus"}}
                }
            }
        },
        "/usage/increment": {
            "post": {
                "tags": ["Usage"],
                "summary": "Consume one unit of the monthly allowance",
                "responses": {
                    "200": {"description": "OK"},
                    "403": {"description": "Allowance exhausted or subscription inactive"}
                }
            }
        },
        "/usage/purchase-package": {
            "post": {
                "tags": ["Usage"],
                "summary": "Purchase additional allowance blocks",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PurchasePackagesRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Invalid package count"}
                }
            }
        },
        "/referrals": {
            "get": {
                "tags": ["Referrals"],
                "summary": "List support requests",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "severity", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Referrals"],
                "summary": "Submit a support request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateReferralRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "403": {"description": "Allowance exhausted or subscription inactive"}
                }
            }
        },
        "/referrals/{id}": {
            "get": {
                "tags": ["Referrals"],
                "summary": "Get support request detail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["Referrals"],
                "summary": "Update a support request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            },
            "delete": {
                "tags": ["Referrals"],
                "summary": "Delete a support request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/referrals/{id}/suggestions": {
            "get": {
                "tags": ["Referrals"],
                "summary": "Get generated intervention suggestions",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/admin/teachers": {
            "get": {
                "tags": ["Admin"],
                "summary": "List teacher accounts",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "role", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Admin"],
                "summary": "Create a teacher account",
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Email already used"}
                }
            }
        },
        "/admin/teachers/bulk-import": {
            "post": {
                "tags": ["Admin"],
                "summary": "Bulk import teacher accounts from CSV",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkImportRequest"}}
                ],
                "responses": {
                    "200": {"description": "Import outcome with per-row errors", "schema": {"$ref": "#/definitions/BulkImportOutcome"}},
                    "400": {"description": "Invalid base64 or missing headers"}
                }
            }
        },
        "/admin/teachers/export": {
            "get": {
                "tags": ["Admin"],
                "summary": "Export teacher accounts as CSV",
                "produces": ["text/csv"],
                "responses": {
                    "200": {"description": "CSV content"}
                }
            }
        },
        "/admin/imports/download": {
            "get": {
                "tags": ["Admin"],
                "summary": "Download an archived import file",
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "CSV content"},
                    "401": {"description": "Invalid or expired token"}
                }
            }
        },
        "/admin/usage/reset": {
            "post": {
                "tags": ["Admin"],
                "summary": "Zero all monthly usage counters",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "PurchasePackagesRequest": {
            "type": "object",
            "properties": {
                "packages": {"type": "integer", "minimum": 1, "maximum": 10}
            },
            "required": ["packages"]
        },
        "QuotaStatus": {
            "type": "object",
            "properties": {
                "can_create": {"type": "boolean"},
                "used": {"type": "integer"},
                "base_limit": {"type": "integer"},
                "additional_packages": {"type": "integer"},
                "total_limit": {"type": "integer"},
                "reason": {"type": "string"}
            }
        },
        "CreateReferralRequest": {
            "type": "object",
            "properties": {
                "student_name": {"type": "string"},
                "grade_level": {"type": "string"},
                "concern_type": {"type": "string", "enum": ["academic", "behavioral", "social-emotional", "attendance"]},
                "description": {"type": "string"},
                "severity": {"type": "string", "enum": ["low", "medium", "high"]}
            },
            "required": ["student_name", "concern_type", "description"]
        },
        "BulkImportRequest": {
            "type": "object",
            "properties": {
                "csv_data": {"type": "string", "description": "Base64-encoded CSV file"},
                "filename": {"type": "string"}
            },
            "required": ["csv_data"]
        },
        "BulkImportOutcome": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "total_rows": {"type": "integer"},
                "successful_imports": {"type": "integer"},
                "errors": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/RowError"}
                },
                "duplicate_emails": {
                    "type": "array",
                    "items": {"type": "string"}
                },
                "summary": {"type": "string"},
                "archive_file": {"type": "string"},
                "archive_url": {"type": "string"}
            }
        },
        "RowError": {
            "type": "object",
            "properties": {
                "row": {"type": "integer"},
                "message": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
