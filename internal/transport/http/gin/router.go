package httpgin

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/seatline/internal/auth"
	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/kirinyoku/seatline/internal/metrics"
	redisrepo "github.com/kirinyoku/seatline/internal/repository/redis"
	"github.com/kirinyoku/seatline/internal/service"
	"github.com/kirinyoku/seatline/internal/service/reservation"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

const idemClaimTTL = 60 * time.Second

// Idempotency stores replayable responses for POST /bookings.
type Idempotency interface {
	Begin(ctx context.Context, key string, claimTTL time.Duration) (bool, error)
	Finish(ctx context.Context, key string, r redisrepo.Replay) error
	Lookup(ctx context.Context, key string) (*redisrepo.Replay, error)
	Abort(ctx context.Context, key string) error
}

type Options struct {
	Tokens  *auth.Service
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Idempotency is nil when no shared store is configured; the
	// Idempotency-Key header is then ignored.
	Idempotency    Idempotency
	MetricsHandler http.Handler
}

func NewRouter(
	svcs *service.Services,
	opts Options,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := gin.New()

	r.Use(
		gin.Recovery(),
		RequestIDMiddleware(),
		LoggingMiddleware(opts.Logger),
		MetricsMiddleware(opts.Metrics),
		CORS(),
		AuthMiddleware(opts.Tokens),
	)
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/healthz", handleHealth)

	if opts.MetricsHandler != nil {
		r.GET("/metrics", handleMetrics(opts.MetricsHandler))
	}

	// Public API
	r.GET("/routes/:id", handleGetRoute(svcs))
	r.GET("/routes/:id/vehicles", handleListRouteVehicles(svcs))
	r.GET("/vehicles/:id", handleGetVehicle(svcs))
	r.GET("/vehicles/:id/seats", handleSeatMap(svcs))
	r.GET("/bookings/code/:code", handleGetBookingByCode(svcs))

	// Customer API
	bookings := r.Group("/bookings", RequireRole(domain.RoleCustomer, domain.RoleAdmin))
	{
		bookings.POST("", handleReserve(svcs, opts.Idempotency, opts.Logger))
		bookings.GET("", handleListBookings(svcs))
		bookings.GET("/:id", handleGetBooking(svcs))
		bookings.GET("/:id/history", handleBookingHistory(svcs))
		bookings.GET("/:id/ticket", handleTicket(svcs))
		bookings.POST("/:id/cancel", handleCancel(svcs))
	}

	// Payment callbacks
	payments := r.Group("/payments", RequireRole(domain.RolePayments, domain.RoleAdmin))
	{
		payments.POST("/:id/confirm", handleConfirmPayment(svcs))
		payments.POST("/:id/fail", handleFailPayment(svcs))
	}

	// Admin API
	admin := r.Group("/admin", RequireRole(domain.RoleAdmin))
	{
		admin.POST("/bookings/:id/status", handleSetStatus(svcs))
		admin.POST("/bookings/complete-due", handleCompleteDue(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Liveness check
// @Success  200  {object}  map[string]string
// @Router   /healthz [get]
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary  Prometheus metrics
// @Produce  plain
// @Success  200  {string}  string
// @Router   /metrics [get]
func handleMetrics(h http.Handler) gin.HandlerFunc {
	return gin.WrapH(h)
}

// @Summary  Get route
// @Param    id  path  int  true  "Route ID"
// @Success  200  {object}  domain.Route
// @Failure  404  {object}  ErrorResponse
// @Router   /routes/{id} [get]
func handleGetRoute(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		routeID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		route, err := svcs.Query.GetRoute(c.Request.Context(), routeID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, route, "public, max-age=60", true)
	}
}

// @Summary  List active vehicles of a route
// @Param    id  path  int  true  "Route ID"
// @Success  200  {array}   domain.Vehicle
// @Failure  404  {object}  ErrorResponse
// @Router   /routes/{id}/vehicles [get]
func handleListRouteVehicles(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		routeID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		vehicles, err := svcs.Query.ListRouteVehicles(c.Request.Context(), routeID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, vehicles, "public, max-age=60", true)
	}
}

// @Summary  Get vehicle
// @Param    id  path  int  true  "Vehicle ID"
// @Success  200  {object}  domain.Vehicle
// @Failure  404  {object}  ErrorResponse
// @Router   /vehicles/{id} [get]
func handleGetVehicle(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		vehicleID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		v, err := svcs.Query.GetVehicle(c.Request.Context(), vehicleID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, v, "public, max-age=60", true)
	}
}

// @Summary  Seat map of a vehicle for one travel date
// @Param    id    path   int     true  "Vehicle ID"
// @Param    date  query  string  true  "YYYY-MM-DD"
// @Success  200  {object}  domain.SeatMap
// @Failure  400  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /vehicles/{id}/seats [get]
func handleSeatMap(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		vehicleID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		date, err := domain.ParseDate(c.Query("date"))
		if err != nil {
			respondErr(c, err)
			return
		}
		sm, err := svcs.Query.SeatMap(c.Request.Context(), vehicleID, date)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, sm, "public, max-age=5", true)
	}
}

// @Summary  Look up a booking by reservation code
// @Param    code  path  string  true  "Reservation code"
// @Success  200  {object}  BookingResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /bookings/code/{code} [get]
func handleGetBookingByCode(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := svcs.Query.GetBookingByCode(c.Request.Context(), c.Param("code"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toPublicBooking(b))
	}
}

// @Summary  Reserve a seat (idempotent)
// @Security BearerAuth
// @Param    req body  ReserveRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} BookingResponse
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "seat already booked / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Failure  503 {object} ErrorResponse "code space exhausted"
// @Router   /bookings [post]
func handleReserve(svcs *service.Services, idem Idempotency, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := actorFrom(c)

		var req ReserveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		customerID := actor.ID
		if actor.IsAdmin() && req.CustomerID > 0 {
			customerID = req.CustomerID
		}

		dreq, err := req.toDomain(customerID)
		if err != nil {
			respondErr(c, err)
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemBooking(customerID, idemKey)

			if r, _ := idem.Lookup(c.Request.Context(), idemStorageKey); r != nil {
				replay(c, idemKey, r)
				return
			}

			claimed, err := idem.Begin(c.Request.Context(), idemStorageKey, idemClaimTTL)
			switch {
			case err != nil:
				// fail open like the limiter; no replay protection for this request
				log.Warn("idempotency store unavailable",
					zap.String("idempotency_key", idemKey),
					zap.Error(err),
				)
				idemStorageKey = ""
			case !claimed:
				if r, _ := idem.Lookup(c.Request.Context(), idemStorageKey); r != nil {
					replay(c, idemKey, r)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress", Retryable: true})
				return
			default:
				// the first owner may have finished after our lookup
				if r, _ := idem.Lookup(c.Request.Context(), idemStorageKey); r != nil {
					_ = idem.Abort(context.WithoutCancel(c.Request.Context()), idemStorageKey)
					replay(c, idemKey, r)
					return
				}
			}
		}

		rlKey := "customer:" + strconv.FormatInt(customerID, 10)

		b, err := svcs.Reservation.Reserve(c.Request.Context(), dreq, rlKey)
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Abort(context.WithoutCancel(c.Request.Context()), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := toBookingResponse(b)

		if idemStorageKey != "" {
			body, _ := json.Marshal(resp)
			_ = idem.Finish(context.WithoutCancel(c.Request.Context()), idemStorageKey, redisrepo.Replay{
				Status: http.StatusCreated,
				Body:   body,
			})
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  List own bookings
// @Security BearerAuth
// @Param    customer_id query int false "admins only"
// @Param    limit       query int false "page size"
// @Param    offset      query int false "offset"
// @Success  200 {object} BookingListResponse
// @Router   /bookings [get]
func handleListBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := actorFrom(c)

		customerID := actor.ID
		if actor.IsAdmin() {
			if id, err := strconv.ParseInt(c.Query("customer_id"), 10, 64); err == nil && id > 0 {
				customerID = id
			}
		}

		limit := parseIntDefault(c.Query("limit"), 0)
		offset := parseIntDefault(c.Query("offset"), 0)

		list, err := svcs.Query.ListCustomerBookings(c.Request.Context(), customerID, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}

		items := make([]BookingResponse, 0, len(list))
		for i := range list {
			items = append(items, toBookingResponse(&list[i]))
		}

		c.JSON(http.StatusOK, BookingListResponse{Items: items, Limit: limit, Offset: offset})
	}
}

// @Summary  Get booking
// @Security BearerAuth
// @Param    id  path  int  true  "Booking ID"
// @Success  200 {object} BookingResponse
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		actor, _ := actorFrom(c)
		b, err := svcs.Query.GetBooking(c.Request.Context(), id, actor)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// @Summary  Status history of a booking
// @Security BearerAuth
// @Param    id  path  int  true  "Booking ID"
// @Success  200 {array} domain.StatusChange
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id}/history [get]
func handleBookingHistory(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		actor, _ := actorFrom(c)
		events, err := svcs.Query.BookingHistory(c.Request.Context(), id, actor)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

// @Summary  Ticket payload
// @Security BearerAuth
// @Param    id  path  int  true  "Booking ID"
// @Success  200 {object} domain.TicketPayload
// @Failure  403 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id}/ticket [get]
func handleTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		actor, _ := actorFrom(c)
		p, err := svcs.Tickets.BuildPayload(c.Request.Context(), id, actor)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// @Summary  Cancel booking
// @Security BearerAuth
// @Param    id  path  int  true  "Booking ID"
// @Success  200 {object} BookingResponse
// @Failure  403 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "invalid transition"
// @Router   /bookings/{id}/cancel [post]
func handleCancel(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		actor, _ := actorFrom(c)
		b, err := svcs.Booking.Cancel(c.Request.Context(), id, actor)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// @Summary  Payment succeeded
// @Security BearerAuth
// @Param    id  path  int  true  "Booking ID"
// @Param    req body  ConfirmPaymentRequest true "payload"
// @Success  200 {object} BookingResponse
// @Failure  409 {object} ErrorResponse "invalid transition"
// @Router   /payments/{id}/confirm [post]
func handleConfirmPayment(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req ConfirmPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		b, err := svcs.Booking.Confirm(c.Request.Context(), id, domain.Payment{
			Method:    req.Method,
			Reference: req.Reference,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// @Summary  Payment failed
// @Security BearerAuth
// @Param    id  path  int  true  "Booking ID"
// @Param    req body  FailPaymentRequest false "payload"
// @Success  200 {object} BookingResponse
// @Failure  409 {object} ErrorResponse "invalid transition"
// @Router   /payments/{id}/fail [post]
func handleFailPayment(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req FailPaymentRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		b, err := svcs.Booking.Fail(c.Request.Context(), id, req.Reason)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// @Summary  Override booking status
// @Security BearerAuth
// @Param    id  path  int  true  "Booking ID"
// @Param    req body  SetStatusRequest true "payload"
// @Success  200 {object} BookingResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "seat taken by another booking"
// @Router   /admin/bookings/{id}/status [post]
func handleSetStatus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req SetStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		actor, _ := actorFrom(c)
		b, err := svcs.Admin.SetStatus(c.Request.Context(), id, domain.Status(req.Status), actor, req.Reason)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// @Summary  Complete bookings whose travel date has passed
// @Security BearerAuth
// @Success  200 {object} CompleteDueResponse
// @Router   /admin/bookings/complete-due [post]
func handleCompleteDue(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := actorFrom(c)
		n, err := svcs.Admin.CompleteDue(c.Request.Context(), actor)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, CompleteDueResponse{Completed: n})
	}
}

// --- Helpers ---

func replay(c *gin.Context, idemKey string, r *redisrepo.Replay) {
	c.Header("Idempotency-Key", idemKey)
	c.Data(r.Status, "application/json; charset=utf-8", r.Body)
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func retryAfterSeconds(d time.Duration) string {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var (
		rl reservation.RateLimitedError
		ve domain.ValidationError
		nf domain.NotFoundError
		ce domain.ConflictError
		te domain.InvalidTransitionError
	)

	switch {
	case errors.As(err, &rl):
		c.Header("Retry-After", retryAfterSeconds(rl.RetryAfter))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited", Retryable: true})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ve.Error(), Field: ve.Field})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: nf.Error()})
	case errors.As(err, &ce):
		if ce.Retryable {
			c.Header("Retry-After", "1")
		}
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:     ce.Error(),
			Legs:      toLegDTOs(ce.Legs),
			Retryable: ce.Retryable,
		})
	case errors.As(err, &te):
		c.JSON(http.StatusConflict, ErrorResponse{Error: te.Error()})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
	case errors.Is(err, domain.ErrCodeGenerationExhausted):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "could not allocate a reservation code", Retryable: true})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
