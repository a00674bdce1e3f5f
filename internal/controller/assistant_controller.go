package controller

import (
	"procedure-assistant-be/internal/dto"
	"procedure-assistant-be/internal/pkg/serverutils"
	"procedure-assistant-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IAssistantController interface {
	RegisterRoutes(r fiber.Router)
	Ask(ctx *fiber.Ctx) error
	ResolveClarification(ctx *fiber.Ctx) error
	ClearSession(ctx *fiber.Ctx) error
}

type assistantController struct {
	service service.IAssistantService
}

func NewAssistantController(service service.IAssistantService) IAssistantController {
	return &assistantController{service: service}
}

func (c *assistantController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/assistant/v1")
	h.Post("ask", c.Ask)
	h.Post("clarification/resolve", c.ResolveClarification)
	h.Delete("sessions/:id", c.ClearSession)
}

func (c *assistantController) Ask(ctx *fiber.Ctx) error {
	var req dto.AskRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Ask(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse(responseMessage(res), res))
}

func (c *assistantController) ResolveClarification(ctx *fiber.Ctx) error {
	var req dto.ResolveClarificationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.ResolveClarification(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse(responseMessage(res), res))
}

func (c *assistantController) ClearSession(ctx *fiber.Ctx) error {
	id := ctx.Params("id")
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Session id is required")
	}

	if err := c.service.ClearSession(ctx.UserContext(), id); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Session cleared", nil))
}

func responseMessage(res *dto.AssistantResponse) string {
	if res.Type == dto.ResponseTypeClarification {
		return "Clarification needed"
	}
	return "Answer generated"
}
