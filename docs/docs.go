// Package docs holds the OpenAPI document served at /swagger. It mirrors
// the swag annotations on the HTTP handlers and is kept in step with them
// by TestSwaggerDocCoversRoutes; regenerate with `swag init -g
// cmd/seatline/main.go` when the annotations change.
package docs

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
        "/admin/bookings/complete-due": {
            "post": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "Complete bookings whose travel date has passed",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/httpgin.CompleteDueResponse"
                        }
                    }
                }
            }
        },
        "/admin/bookings/{id}/status": {
            "post": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "Override booking status",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Booking ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "payload",
                        "name": "req",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/httpgin.SetStatusRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/httpgin.BookingResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "409": {
                        "description": "seat taken by another booking",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/bookings": {
            "post": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "Reserve a seat (idempotent)",
                "parameters": [
                    {
                        "description": "payload",
                        "name": "req",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/httpgin.ReserveRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/httpgin.BookingResponse"
                        },
                        "headers": {
                            "Idempotency-Key": {
                                "type": "string",
                                "description": "echo"
                            }
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "409": {
                        "description": "seat already booked / idem in progress",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "429": {
                        "description": "rate limited",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "503": {
                        "description": "code space exhausted",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            },
            "get": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "List own bookings",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "admins only",
                        "name": "customer_id",
                        "in": "query"
                    },
                    {
                        "type": "integer",
                        "description": "page size",
                        "name": "limit",
                        "in": "query"
                    },
                    {
                        "type": "integer",
                        "description": "offset",
                        "name": "offset",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/httpgin.BookingListResponse"
                        }
                    }
                }
            }
        },
        "/bookings/code/{code}": {
            "get": {
                "summary": "Look up a booking by reservation code",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Reservation code",
                        "name": "code",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/httpgin.BookingResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/bookings/{id}": {
            "get": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "Get booking",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Booking ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/httpgin.BookingResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/bookings/{id}/cancel": {
            "post": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "Cancel booking",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Booking ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/httpgin.BookingResponse"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "409": {
                        "description": "invalid transition",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/bookings/{id}/history": {
            "get": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "Status history of a booking",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Booking ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/domain.StatusChange"
                            }
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/bookings/{id}/ticket": {
            "get": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "Ticket payload",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Booking ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/domain.TicketPayload"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/healthz": {
            "get": {
                "summary": "Liveness check",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/metrics": {
            "get": {
                "produces": [
                    "text/plain"
                ],
                "summary": "Prometheus metrics",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "string"
                        }
                    }
                }
            }
        },
        "/payments/{id}/confirm": {
            "post": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "Payment succeeded",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Booking ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "payload",
                        "name": "req",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/httpgin.ConfirmPaymentRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/httpgin.BookingResponse"
                        }
                    },
                    "409": {
                        "description": "invalid transition",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/payments/{id}/fail": {
            "post": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "summary": "Payment failed",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Booking ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "payload",
                        "name": "req",
                        "in": "body",
                        "required": false,
                        "schema": {
                            "$ref": "#/definitions/httpgin.FailPaymentRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/httpgin.BookingResponse"
                        }
                    },
                    "409": {
                        "description": "invalid transition",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/routes/{id}": {
            "get": {
                "summary": "Get route",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Route ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/domain.Route"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/routes/{id}/vehicles": {
            "get": {
                "summary": "List active vehicles of a route",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Route ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/domain.Vehicle"
                            }
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/vehicles/{id}": {
            "get": {
                "summary": "Get vehicle",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Vehicle ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/domain.Vehicle"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/vehicles/{id}/seats": {
            "get": {
                "summary": "Seat map of a vehicle for one travel date",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Vehicle ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "YYYY-MM-DD",
                        "name": "date",
                        "in": "query",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/domain.SeatMap"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/httpgin.ErrorResponse"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "domain.Route": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer"
                },
                "name": {
                    "type": "string"
                },
                "origin": {
                    "type": "string"
                },
                "destination": {
                    "type": "string"
                },
                "base_fare_cents": {
                    "type": "integer"
                },
                "departure": {
                    "type": "integer"
                },
                "arrival": {
                    "type": "integer"
                },
                "is_active": {
                    "type": "boolean"
                }
            }
        },
        "domain.SeatAvailability": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer"
                },
                "vehicle_id": {
                    "type": "integer"
                },
                "number": {
                    "type": "string"
                },
                "is_window": {
                    "type": "boolean"
                },
                "is_available": {
                    "type": "boolean"
                },
                "booked": {
                    "type": "boolean"
                },
                "bookable": {
                    "type": "boolean"
                }
            }
        },
        "domain.SeatMap": {
            "type": "object",
            "properties": {
                "vehicle_id": {
                    "type": "integer"
                },
                "date": {
                    "type": "string"
                },
                "seats": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/domain.SeatAvailability"
                    }
                },
                "total": {
                    "type": "integer"
                },
                "available": {
                    "type": "integer"
                }
            }
        },
        "domain.StatusChange": {
            "type": "object",
            "properties": {
                "booking_id": {
                    "type": "integer"
                },
                "from": {
                    "type": "string"
                },
                "to": {
                    "type": "string"
                },
                "actor_id": {
                    "type": "integer"
                },
                "override": {
                    "type": "boolean"
                },
                "reason": {
                    "type": "string"
                },
                "at": {
                    "type": "string"
                }
            }
        },
        "domain.TicketPayload": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "passenger_name": {
                    "type": "string"
                },
                "route": {
                    "type": "string"
                },
                "origin": {
                    "type": "string"
                },
                "destination": {
                    "type": "string"
                },
                "vehicle": {
                    "type": "string"
                },
                "seat": {
                    "type": "string"
                },
                "travel_date": {
                    "type": "string"
                },
                "departs_at": {
                    "type": "string"
                },
                "trip_type": {
                    "type": "string"
                },
                "fare_cents": {
                    "type": "integer"
                },
                "status": {
                    "type": "string"
                },
                "return_date": {
                    "type": "string"
                },
                "return_vehicle": {
                    "type": "string"
                },
                "return_seat": {
                    "type": "string"
                }
            }
        },
        "domain.Vehicle": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer"
                },
                "number": {
                    "type": "string"
                },
                "name": {
                    "type": "string"
                },
                "seat_capacity": {
                    "type": "integer"
                },
                "route_id": {
                    "type": "integer"
                },
                "is_active": {
                    "type": "boolean"
                }
            }
        },
        "httpgin.BookingListResponse": {
            "type": "object",
            "properties": {
                "items": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/httpgin.BookingResponse"
                    }
                },
                "limit": {
                    "type": "integer"
                },
                "offset": {
                    "type": "integer"
                }
            }
        },
        "httpgin.BookingResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer"
                },
                "code": {
                    "type": "string"
                },
                "customer_id": {
                    "type": "integer"
                },
                "passenger_name": {
                    "type": "string"
                },
                "route_id": {
                    "type": "integer"
                },
                "vehicle_id": {
                    "type": "integer"
                },
                "seat_id": {
                    "type": "integer"
                },
                "travel_date": {
                    "type": "string"
                },
                "trip_type": {
                    "type": "string"
                },
                "return_vehicle_id": {
                    "type": "integer"
                },
                "return_seat_id": {
                    "type": "integer"
                },
                "return_date": {
                    "type": "string"
                },
                "fare_cents": {
                    "type": "integer"
                },
                "status": {
                    "type": "string"
                },
                "payment_method": {
                    "type": "string"
                },
                "legs": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/httpgin.LegDTO"
                    }
                },
                "created_at": {
                    "type": "string"
                },
                "updated_at": {
                    "type": "string"
                }
            }
        },
        "httpgin.CompleteDueResponse": {
            "type": "object",
            "properties": {
                "completed": {
                    "type": "integer"
                }
            }
        },
        "httpgin.ConfirmPaymentRequest": {
            "type": "object",
            "required": [
                "method"
            ],
            "properties": {
                "method": {
                    "type": "string"
                },
                "reference": {
                    "type": "string"
                }
            }
        },
        "httpgin.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "string"
                },
                "field": {
                    "type": "string"
                },
                "legs": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/httpgin.LegDTO"
                    }
                },
                "retryable": {
                    "type": "boolean"
                }
            }
        },
        "httpgin.FailPaymentRequest": {
            "type": "object",
            "properties": {
                "reason": {
                    "type": "string"
                }
            }
        },
        "httpgin.LegDTO": {
            "type": "object",
            "properties": {
                "direction": {
                    "type": "string"
                },
                "vehicle_id": {
                    "type": "integer"
                },
                "seat_id": {
                    "type": "integer"
                },
                "date": {
                    "type": "string"
                }
            }
        },
        "httpgin.ReserveRequest": {
            "type": "object",
            "required": [
                "passenger_name",
                "route_id",
                "vehicle_id",
                "seat_id",
                "trip_type",
                "travel_date"
            ],
            "properties": {
                "customer_id": {
                    "type": "integer"
                },
                "passenger_name": {
                    "type": "string"
                },
                "route_id": {
                    "type": "integer"
                },
                "vehicle_id": {
                    "type": "integer"
                },
                "seat_id": {
                    "type": "integer"
                },
                "trip_type": {
                    "type": "string"
                },
                "travel_date": {
                    "type": "string"
                },
                "return_vehicle_id": {
                    "type": "integer"
                },
                "return_seat_id": {
                    "type": "integer"
                },
                "return_date": {
                    "type": "string"
                }
            }
        },
        "httpgin.SetStatusRequest": {
            "type": "object",
            "required": [
                "status"
            ],
            "properties": {
                "status": {
                    "type": "string"
                },
                "reason": {
                    "type": "string"
                }
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
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
	Schemes:          []string{},
	Title:            "Seatline API",
	Description:      "Seat reservation and booking lifecycle service.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
