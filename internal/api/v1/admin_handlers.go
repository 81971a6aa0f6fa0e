package apiv1

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/picmetahq/picmeta/app/models"
	"github.com/picmetahq/picmeta/app/repository"
	"github.com/picmetahq/picmeta/internal/pkg/billing"
	"github.com/picmetahq/picmeta/internal/pkg/entitlements"
)

// RegisterAdminHandlers attaches the admin control surface to the router
// group. The router wraps the group in the admin auth middleware.
func RegisterAdminHandlers(r fiber.Router, s *APIServer) {
	keys := r.Group("/keys")
	keys.Post("/", s.PostCreateKey)
	keys.Get("/", s.GetListKeys)
	keys.Get("/:id", s.GetKey)
	keys.Delete("/:id", s.DeleteKey)
	keys.Post("/:id/plan", s.PostAssignPlan)
	keys.Post("/:id/topup", s.PostTopUp)
	keys.Post("/:id/extend", s.PostExtendExpiry)
	keys.Post("/:id/suspend", s.PostSuspend)
	keys.Post("/:id/reactivate", s.PostReactivate)
	keys.Post("/:id/devices/reset", s.PostResetDevices)

	users := r.Group("/users")
	users.Post("/", s.PostCreateUser)
	users.Get("/", s.GetListUsers)

	plans := r.Group("/plans")
	plans.Post("/", s.PostCreatePlan)
	plans.Get("/", s.GetAllPlans)
	plans.Put("/:id", s.PutUpdatePlan)
	plans.Delete("/:id", s.DeletePlan)

	sched := r.Group("/scheduler")
	sched.Get("/status", s.GetSchedulerStatus)
	sched.Get("/needs", s.GetMaintenanceNeeds)
	sched.Post("/run", s.PostTriggerMaintenance)
	sched.Post("/one-time", s.PostScheduleOneTime)
	sched.Delete("/one-time/:id", s.DeleteOneTime)

	r.Post("/payments/webhook", s.PostPaymentWebhook)
}

// PostCreateKey provisions the user's entitlement record. Repeated calls for
// the same user return the existing record.
func (s *APIServer) PostCreateKey(c *fiber.Ctx) error {
	var req CreateKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, "user_id is required")
	}

	key, err := s.entitlements.GetOrCreateKey(c.Context(), req.UserID)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(key)
}

// GetListKeys lists entitlement records with offset/limit paging.
func (s *APIServer) GetListKeys(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	repo := repository.GetGlobalFactory().GetAppKeyRepository()
	keys, err := repo.List(offset, limit)
	if err != nil {
		return s.respondError(c, err)
	}
	total, err := repo.Count()
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{"keys": keys, "total": total, "offset": offset, "limit": limit})
}

// GetKey returns one entitlement record, reconciled on read.
func (s *APIServer) GetKey(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return badRequest(c, "invalid key id")
	}

	repo := repository.GetGlobalFactory().GetAppKeyRepository()
	key, err := repo.GetByID(id)
	if err != nil {
		return s.respondError(c, err)
	}
	if key.Reconcile() {
		if err := repo.Update(key); err != nil {
			return s.respondError(c, err)
		}
	}
	return c.JSON(key)
}

// DeleteKey hard-deletes an entitlement record.
func (s *APIServer) DeleteKey(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return badRequest(c, "invalid key id")
	}
	if err := s.entitlements.DeleteKey(c.Context(), id); err != nil {
		return s.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PostAssignPlan moves a key between plans: plan_type "free" downgrades,
// otherwise plan_id selects the pricing plan to apply.
func (s *APIServer) PostAssignPlan(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return badRequest(c, "invalid key id")
	}
	var req AssignPlanRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, "plan_type must be free, credit or subscription")
	}

	var key *models.AppKey
	if req.PlanType == models.PLAN_FREE {
		key, err = s.entitlements.DowngradeToFree(c.Context(), id)
	} else {
		if req.PlanID == 0 {
			return badRequest(c, "plan_id is required unless plan_type is free")
		}
		key, err = s.entitlements.AssignPlan(c.Context(), id, req.PlanID)
	}
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(key)
}

// PostTopUp adds prepaid units to a metered key.
func (s *APIServer) PostTopUp(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return badRequest(c, "invalid key id")
	}
	var req TopUpRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, "amount must be a positive integer")
	}

	key, err := s.entitlements.TopUpCredit(c.Context(), id, req.Amount)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(key)
}

// PostExtendExpiry pushes a paid key's expiry out by whole days.
func (s *APIServer) PostExtendExpiry(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return badRequest(c, "invalid key id")
	}
	var req ExtendExpiryRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, "days must be a positive integer")
	}

	key, err := s.entitlements.ExtendExpiry(c.Context(), id, req.Days)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(key)
}

// PostSuspend flags the key suspended.
func (s *APIServer) PostSuspend(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return badRequest(c, "invalid key id")
	}
	key, err := s.entitlements.Suspend(c.Context(), id)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(key)
}

// PostReactivate lifts a suspension.
func (s *APIServer) PostReactivate(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return badRequest(c, "invalid key id")
	}
	key, err := s.entitlements.Reactivate(c.Context(), id)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(key)
}

// PostResetDevices clears all device bindings on the key.
func (s *APIServer) PostResetDevices(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return badRequest(c, "invalid key id")
	}
	key, err := s.entitlements.ResetDevices(c.Context(), id)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(key)
}

// PostCreateUser registers an account and provisions its entitlement record
// in one step, so a fresh user comes back with a usable key.
func (s *APIServer) PostCreateUser(c *fiber.Ctx) error {
	var req CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, "name, email and a password of at least 6 characters are required")
	}

	user, err := models.CreateUser(req.Name, req.Email, req.Password)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := repository.GetGlobalFactory().GetUserRepository().Create(user); err != nil {
		return s.respondError(c, err)
	}

	key, err := s.entitlements.GetOrCreateKey(c.Context(), user.ID)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user, "key": key})
}

// GetListUsers lists accounts with offset/limit paging.
func (s *APIServer) GetListUsers(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	users, err := repo.List(offset, limit)
	if err != nil {
		return s.respondError(c, err)
	}
	total, err := repo.Count()
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{"users": users, "total": total, "offset": offset, "limit": limit})
}

// PostCreatePlan creates a pricing plan definition.
func (s *APIServer) PostCreatePlan(c *fiber.Ctx) error {
	var plan models.PricingPlan
	if err := c.BodyParser(&plan); err != nil {
		return badRequest(c, "invalid request body")
	}
	plan.ID = 0
	if err := s.validate.Struct(&plan); err != nil {
		return badRequest(c, "name and a valid plan_type are required")
	}

	if err := repository.GetGlobalFactory().GetPricingPlanRepository().Create(&plan); err != nil {
		return s.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}

// GetAllPlans lists every pricing plan, active or not.
func (s *APIServer) GetAllPlans(c *fiber.Ctx) error {
	plans, err := repository.GetGlobalFactory().GetPricingPlanRepository().GetAll()
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// PutUpdatePlan replaces a pricing plan definition. Existing keys keep the
// plan shape they were assigned; the definition only affects future
// assignments.
func (s *APIServer) PutUpdatePlan(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return badRequest(c, "invalid plan id")
	}
	repo := repository.GetGlobalFactory().GetPricingPlanRepository()
	if _, err := repo.GetByID(id); err != nil {
		return s.respondError(c, err)
	}

	var plan models.PricingPlan
	if err := c.BodyParser(&plan); err != nil {
		return badRequest(c, "invalid request body")
	}
	plan.ID = id
	if err := s.validate.Struct(&plan); err != nil {
		return badRequest(c, "name and a valid plan_type are required")
	}

	if err := repo.Update(&plan); err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(plan)
}

// DeletePlan soft-deletes a pricing plan definition.
func (s *APIServer) DeletePlan(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return badRequest(c, "invalid plan id")
	}
	repo := repository.GetGlobalFactory().GetPricingPlanRepository()
	if _, err := repo.GetByID(id); err != nil {
		return s.respondError(c, err)
	}
	if err := repo.Delete(id); err != nil {
		return s.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetSchedulerStatus reports the scheduler control-surface snapshot.
func (s *APIServer) GetSchedulerStatus(c *fiber.Ctx) error {
	return c.JSON(s.scheduler.Stats())
}

// GetMaintenanceNeeds counts what each sweep would touch right now.
func (s *APIServer) GetMaintenanceNeeds(c *fiber.Ctx) error {
	needs, err := s.scheduler.MaintenanceNeedCounts()
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(needs)
}

// PostTriggerMaintenance runs a maintenance pass synchronously.
func (s *APIServer) PostTriggerMaintenance(c *fiber.Ctx) error {
	result := s.scheduler.TriggerNow()
	if !result.Succeeded() {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  string(entitlements.CodeSweepFailure),
			"result": result,
		})
	}
	return c.JSON(result)
}

// PostScheduleOneTime registers an out-of-cycle maintenance run.
func (s *APIServer) PostScheduleOneTime(c *fiber.Ctx) error {
	var req ScheduleOneTimeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, "at is required")
	}

	id, err := s.scheduler.ScheduleOneTime(req.At)
	if err != nil {
		return badRequest(c, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id, "at": req.At})
}

// DeleteOneTime cancels a pending one-time maintenance run.
func (s *APIServer) DeleteOneTime(c *fiber.Ctx) error {
	if !s.scheduler.CancelOneTime(c.Params("id")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "no pending one-time run with that id"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PostPaymentWebhook applies an external payment confirmation. Redeliveries
// of the same provider event come back 200 without being applied twice.
func (s *APIServer) PostPaymentWebhook(c *fiber.Ctx) error {
	var req PaymentWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, "provider, user_id and plan_id are required")
	}

	key, applied, err := s.billing.ApplyPaymentConfirmation(c.Context(), billing.PaymentConfirmation{
		Provider:        req.Provider,
		ProviderEventID: req.ProviderEventID,
		UserID:          req.UserID,
		PlanID:          req.PlanID,
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		PayloadJSON:     string(c.Body()),
	})
	if err != nil {
		return s.respondError(c, err)
	}
	status := fiber.StatusOK
	if applied {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"applied": applied, "key": key})
}

func parseIDParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_input", "message": message})
}
