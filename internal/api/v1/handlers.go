package apiv1

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/picmetahq/picmeta/app/models"
	"github.com/picmetahq/picmeta/app/repository"
	"github.com/picmetahq/picmeta/internal/pkg/billing"
	"github.com/picmetahq/picmeta/internal/pkg/entitlements"
	"github.com/picmetahq/picmeta/internal/pkg/middleware"
	"github.com/picmetahq/picmeta/internal/pkg/scheduler"
)

// APIServer holds the services behind the v1 endpoints.
type APIServer struct {
	entitlements *entitlements.Service
	billing      *billing.Service
	scheduler    *scheduler.Scheduler
	validate     *validator.Validate
}

// NewAPIServer creates a new API server instance
func NewAPIServer(ent *entitlements.Service, bill *billing.Service, sched *scheduler.Scheduler) *APIServer {
	return &APIServer{
		entitlements: ent,
		billing:      bill,
		scheduler:    sched,
		validate:     validator.New(),
	}
}

// RegisterHandlers attaches the public v1 endpoints to the router group.
// Admin endpoints are registered separately so the router can gate them.
func RegisterHandlers(r fiber.Router, s *APIServer) {
	r.Get("/ping", s.GetPing)
	r.Get("/plans", s.GetPlans)

	keys := r.Group("/keys", middleware.AppKeyMiddleware())
	keys.Post("/validate", s.PostValidate)
	keys.Post("/usage", s.PostCommitUsage)
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetPlans lists the active pricing plans.
func (s *APIServer) GetPlans(c *fiber.Ctx) error {
	plans, err := repository.GetGlobalFactory().GetPricingPlanRepository().GetActive()
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// PostValidate checks key, device and balance for the requested units and
// returns the current plan snapshot without debiting anything.
func (s *APIServer) PostValidate(c *fiber.Ctx) error {
	req, err := s.parseUnits(c)
	if err != nil {
		return s.respondError(c, err)
	}

	snapshot, err := s.entitlements.ValidateAndReserve(
		c.Context(),
		c.Locals(middleware.LocalsAppKey).(string),
		c.Locals(middleware.LocalsDeviceID).(string),
		req.Units,
	)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(snapshot)
}

// PostCommitUsage debits previously authorized units and returns the
// updated plan plus the full usage ledger.
func (s *APIServer) PostCommitUsage(c *fiber.Ctx) error {
	req, err := s.parseUnits(c)
	if err != nil {
		return s.respondError(c, err)
	}

	report, err := s.entitlements.CommitUsage(
		c.Context(),
		c.Locals(middleware.LocalsAppKey).(string),
		c.Locals(middleware.LocalsDeviceID).(string),
		req.Units,
	)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(report)
}

func (s *APIServer) parseUnits(c *fiber.Ctx) (*UnitsRequest, error) {
	var req UnitsRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, entitlements.NewError(entitlements.CodeInvalidInput, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return nil, entitlements.NewError(entitlements.CodeInvalidInput, "units must be a positive integer")
	}
	return &req, nil
}

// respondError maps domain errors onto the wire without re-deriving their
// semantics in the transport layer.
func (s *APIServer) respondError(c *fiber.Ctx, err error) error {
	var domainErr *entitlements.Error
	if errors.As(err, &domainErr) {
		body := fiber.Map{"error": string(domainErr.Code), "message": domainErr.Message}
		if domainErr.Code == entitlements.CodeInsufficientCredit {
			body["required"] = domainErr.Required
			body["available"] = domainErr.Available
		}
		return c.Status(domainErr.Code.HTTPStatus()).JSON(body)
	}

	switch {
	case errors.Is(err, models.ErrAlreadySuspended), errors.Is(err, models.ErrNotSuspended):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "resource not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "something went wrong"})
	}
}
