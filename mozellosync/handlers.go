package mozellosync

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/ebooks_backend/config"
	"github.com/mmdatafocus/ebooks_backend/models"
	"github.com/mmdatafocus/ebooks_backend/mozello"
	"github.com/mmdatafocus/ebooks_backend/utils"
	"gorm.io/gorm"
)

// NotificationPusher is the slice of the API client the settings handlers
// need to register the webhook subscription with the platform.
type NotificationPusher interface {
	PutNotificationSettings(ctx context.Context, settings mozello.NotificationSettings) error
}

// Handlers exposes the webhook endpoint and the admin command surface.
type Handlers struct {
	svc      *Service
	db       *gorm.DB
	notifier NotificationPusher
}

func NewHandlers(svc *Service, db *gorm.DB, notifier NotificationPusher) *Handlers {
	return &Handlers{svc: svc, db: db, notifier: notifier}
}

func (h *Handlers) Register(r *gin.Engine) {
	r.POST("/mozello/webhook", h.webhook)

	admin := r.Group("/admin/mozello")
	admin.Use(requireAdmin)
	admin.GET("/orders", h.listOrders)
	admin.POST("/orders", h.createOrder)
	admin.POST("/orders/:id/refresh", h.refreshOrder)
	admin.DELETE("/orders/:id", h.deleteOrder)
	admin.POST("/orders/:id/user", h.createUserForOrder)
	admin.POST("/orders/import", h.importOrders)
	admin.GET("/settings", h.getSettings)
	admin.PUT("/settings", h.putSettings)
	admin.GET("/notifications", h.listNotifications)
}

// requireAdmin checks the admin capability that the auth middleware placed in
// the request context. The check is on the capability, not on how the caller
// authenticated.
func requireAdmin(c *gin.Context) {
	if isAdmin, ok := utils.GetIsAdminFromContext(c.Request.Context()); !ok || !isAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
		return
	}
	c.Next()
}

func (h *Handlers) webhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}

	result, err := h.svc.HandleWebhook(c.Request.Context(), rawBody, c.GetHeader("X-Mozello-Hash"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, ErrSignatureInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, ErrPayloadInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
	}
}

func (h *Handlers) listOrders(c *gin.Context) {
	result, err := h.svc.ListOrders(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot list orders"})
		return
	}
	c.JSON(http.StatusOK, result)
}

type createOrderRequest struct {
	Email         string `json:"email" binding:"required,email"`
	MzHandle      string `json:"mz_handle" binding:"required"`
	PaymentStatus string `json:"payment_status"`
}

func (h *Handlers) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, created, err := h.svc.CreateOrder(c.Request.Context(), req.Email, req.MzHandle, req.PaymentStatus)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot create order"})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"order": view, "created": created})
}

func (h *Handlers) refreshOrder(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	view, err := h.svc.RefreshOrder(c.Request.Context(), id)
	if err != nil {
		if IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot refresh order"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": view})
}

func (h *Handlers) deleteOrder(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteOrder(c.Request.Context(), id); err != nil {
		if IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot delete order"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *Handlers) createUserForOrder(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	view, secret, err := h.svc.CreateUserForOrder(c.Request.Context(), id)
	if err != nil {
		if IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot create user for order"})
		return
	}
	resp := gin.H{"order": view}
	if secret != "" {
		// Returned once; not stored anywhere in clear.
		resp["generated_password"] = secret
	}
	c.JSON(http.StatusOK, resp)
}

type importOrdersRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (h *Handlers) importOrders(c *gin.Context) {
	var req importOrdersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	from, err := parseDate(req.From)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date, want YYYY-MM-DD"})
		return
	}
	to, err := parseDate(req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to date, want YYYY-MM-DD"})
		return
	}

	summary, err := h.svc.ImportPaidOrders(c.Request.Context(), from, to)
	if err != nil {
		if errors.Is(err, mozello.ErrNotConfigured) {
			c.JSON(http.StatusConflict, gin.H{"error": "mozello api key not configured"})
			return
		}
		c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "import failed", "summary": summary})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handlers) getSettings(c *gin.Context) {
	settings, err := models.GetMozelloSettings(h.db)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot load settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications_wanted": settings.EventsList(),
		"forced_port":          settings.ForcedPort,
		"log_payloads":         settings.LogPayloads,
		"allowed_events":       models.AllowedMozelloEvents,
		"webhook_url":          webhookURL(settings.ForcedPort),
	})
}

type putSettingsRequest struct {
	NotificationsWanted []string `json:"notifications_wanted"`
	ForcedPort          *string  `json:"forced_port"`
	LogPayloads         *bool    `json:"log_payloads"`
}

func (h *Handlers) putSettings(c *gin.Context) {
	var req putSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings, err := models.UpdateMozelloSettings(h.db, req.NotificationsWanted, req.ForcedPort, req.LogPayloads)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot update settings"})
		return
	}

	pushed := false
	target := webhookURL(settings.ForcedPort)
	if h.notifier != nil && target != "" {
		err := h.notifier.PutNotificationSettings(c.Request.Context(), mozello.NotificationSettings{
			NotificationsURL:    target,
			NotificationsWanted: settings.EventsList(),
		})
		if err != nil {
			c.Error(err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "settings saved but platform registration failed"})
			return
		}
		pushed = true
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications_wanted": settings.EventsList(),
		"forced_port":          settings.ForcedPort,
		"log_payloads":         settings.LogPayloads,
		"webhook_url":          target,
		"pushed":               pushed,
	})
}

// listNotifications serves the rolling log of accepted webhook deliveries.
func (h *Handlers) listNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := models.ListNotificationLogs(h.db, limit)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot list notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": entries})
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}
	return id, true
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// webhookURL derives the endpoint the platform should deliver to. A forced
// port overrides whatever port the public base URL carries, for deployments
// behind a port-rewriting proxy.
func webhookURL(forcedPort string) string {
	base := config.PublicBaseURL()
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	if forcedPort != "" {
		u.Host = u.Hostname() + ":" + forcedPort
	}
	u.Path = "/mozello/webhook"
	return u.String()
}
