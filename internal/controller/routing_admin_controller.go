package controller

import (
	"errors"
	"fmt"
	"time"

	"procedure-assistant-be/internal/pkg/serverutils"
	"procedure-assistant-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

const defaultAuditWindow = 24 * time.Hour

type IRoutingAdminController interface {
	RegisterRoutes(r fiber.Router)
	CacheStatus(ctx *fiber.Ctx) error
	RebuildCache(ctx *fiber.Ctx) error
	AuditSummary(ctx *fiber.Ctx) error
}

type routingAdminController struct {
	cacheService service.IRoutingCacheService
	auditService service.IRoutingAuditService
}

func NewRoutingAdminController(cacheService service.IRoutingCacheService, auditService service.IRoutingAuditService) IRoutingAdminController {
	return &routingAdminController{
		cacheService: cacheService,
		auditService: auditService,
	}
}

func (c *routingAdminController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/admin/v1")
	h.Use(serverutils.JwtMiddleware, serverutils.RequireRole("admin", "operator"))
	h.Get("routing-cache", c.CacheStatus)
	h.Post("routing-cache/rebuild", c.RebuildCache)
	h.Get("routing-audit", c.AuditSummary)
}

func (c *routingAdminController) CacheStatus(ctx *fiber.Ctx) error {
	return ctx.JSON(serverutils.SuccessResponse("Routing cache status", c.cacheService.Status()))
}

// RebuildCache queues a rebuild. The work happens in the background consumer.
func (c *routingAdminController) RebuildCache(ctx *fiber.Ctx) error {
	requestedBy, _ := ctx.Locals("user_id").(string)

	res, err := c.cacheService.RequestRebuild(ctx.UserContext(), requestedBy)
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.BaseResponse[any]{
		Success: true,
		Code:    fiber.StatusAccepted,
		Message: "Routing cache rebuild queued",
		Data:    res,
	})
}

func (c *routingAdminController) AuditSummary(ctx *fiber.Ctx) error {
	window := defaultAuditWindow
	if raw := ctx.Query("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid since duration %q", raw))
		}
		window = d
	}

	res, err := c.auditService.Summary(ctx.UserContext(), window)
	if errors.Is(err, service.ErrInvalidAuditWindow) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Routing audit summary", res))
}
