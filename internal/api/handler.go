package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"stall-service/internal/service"
	"stall-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const vendorIDKey = "vendorID"

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	booking      *service.BookingService
	cancellation *service.CancellationService
	stalls       *service.StallService
	reservations *service.ReservationService
	store        Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	booking *service.BookingService,
	cancellation *service.CancellationService,
	stalls *service.StallService,
	reservations *service.ReservationService,
	store Pinger,
) *Handler {
	return &Handler{
		booking:      booking,
		cancellation: cancellation,
		stalls:       stalls,
		reservations: reservations,
		store:        store,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/stalls", h.listStalls)
		v1.GET("/stalls/floors", h.listFloors)

		vendor := v1.Group("/vendor", vendorIdentity())
		{
			vendor.POST("/reservations", h.bookStalls)
			vendor.GET("/reservations", h.vendorBookings)
			vendor.GET("/reservations/count", h.activeStallCount)
			vendor.DELETE("/reservations/:stallId", h.cancelStall)
		}

		admin := v1.Group("/admin")
		{
			admin.GET("/stalls/availability", h.availability)
			admin.PATCH("/stalls/:id/toggle-disabled", h.toggleDisabled)
			admin.GET("/reservations", h.listReservations)
		}

		employee := v1.Group("/employee")
		{
			employee.GET("/stalls", h.availability)
			employee.POST("/verify", h.verify)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		util.GetLogger().Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) listStalls(c *gin.Context) {
	var floorID *int64
	if raw := c.Query("floorId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "Invalid floor ID")
			return
		}
		floorID = &id
	}

	stalls, err := h.stalls.ListStalls(c.Request.Context(), floorID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stalls)
}

func (h *Handler) listFloors(c *gin.Context) {
	floors, err := h.stalls.ListFloors(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, floors)
}

// bookStalls handles stall booking
func (h *Handler) bookStalls(c *gin.Context) {
	var req service.BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.GetLogger().Debug("Rejected booking body", zap.Error(err))
		badRequest(c, "Invalid request body")
		return
	}
	req.VendorID = c.GetInt64(vendorIDKey)
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	resp, err := h.booking.Book(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) vendorBookings(c *gin.Context) {
	bookings, err := h.reservations.VendorBookings(c.Request.Context(), c.GetInt64(vendorIDKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

func (h *Handler) activeStallCount(c *gin.Context) {
	count, limit, err := h.reservations.ActiveStallCount(c.Request.Context(), c.GetInt64(vendorIDKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":     count,
		"max":       limit,
		"remaining": limit - count,
	})
}

// cancelStall releases one stall of the calling vendor
func (h *Handler) cancelStall(c *gin.Context) {
	stallID, err := strconv.ParseInt(c.Param("stallId"), 10, 64)
	if err != nil {
		badRequest(c, "Invalid stall ID")
		return
	}

	result, err := h.cancellation.Cancel(c.Request.Context(), c.GetInt64(vendorIDKey), stallID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) availability(c *gin.Context) {
	views, err := h.stalls.Availability(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) toggleDisabled(c *gin.Context) {
	stallID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "Invalid stall ID")
		return
	}

	result, err := h.stalls.ToggleDisabled(c.Request.Context(), stallID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listReservations(c *gin.Context) {
	reservations, err := h.reservations.ListReservations(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

type verifyRequest struct {
	Token string `json:"token" binding:"required"`
}

// verify resolves a scanned QR code at the entrance
func (h *Handler) verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Reservation code is required")
		return
	}

	result, err := h.reservations.Verify(c.Request.Context(), req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// vendorIdentity reads the caller's vendor id from the X-Vendor-ID header
func vendorIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader("X-Vendor-ID"), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": "Vendor identity is required",
			})
			return
		}
		c.Set(vendorIDKey, id)
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
