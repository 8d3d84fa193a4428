// handlers/war_routes.go
package handlers

import (
	"log"

	"guild-war-system/middleware"
	"guild-war-system/models"
	"guild-war-system/services"

	"github.com/gofiber/fiber/v2"
)

// WarHandler bundles the domain services behind the HTTP surface.
type WarHandler struct {
	Wars        *services.WarService
	Territories *services.TerritoryService
	Archive     *services.ArchiveService
	Store       services.WarStore
}

func SetupWarRoutes(app *fiber.App, h *WarHandler) {
	// 🔓 Public routes — still behind gateway auth at the app level
	app.Get("/wars", h.ListWars)
	app.Get("/wars/:id", h.GetWar)
	app.Get("/wars/:id/territories", h.GetTerritories)
	app.Get("/wars/:id/events", h.GetEvents)
	app.Get("/wars/:id/participants", h.GetParticipants)

	// 🔐 Secured routes — require user context from the Gateway
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/wars", h.DeclareWar)
	secured.Post("/wars/:id/participants", h.RegisterParticipants)
	secured.Post("/wars/:id/cancel", h.CancelWar)
	secured.Post("/wars/:id/territories/:territory_id/attack", h.AttackTerritory)
	secured.Post("/wars/:id/territories/:territory_id/reinforce", h.ReinforceTerritory)

	// Archive lookups
	app.Get("/wars/history/keys", h.ListArchives)
	app.Get("/wars/history/:id", h.GetArchivedWar)
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch services.ErrKind(err) {
	case services.KindValidation:
		return fiber.StatusBadRequest
	case services.KindState:
		return fiber.StatusConflict
	case services.KindContention:
		if services.ErrCode(err) == services.CodeBusy {
			return fiber.StatusServiceUnavailable
		}
		return fiber.StatusConflict
	case services.KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func errorResponse(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("❌ [WAR] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  services.ErrCode(err),
	})
}

// viewerGuild reads the caller's guild from the Gateway headers. Empty
// means a spectator view.
func viewerGuild(c *fiber.Ctx) string {
	return c.Get("X-Guild-ID")
}

func (h *WarHandler) DeclareWar(c *fiber.Ctx) error {
	var req struct {
		ChallengerGuildID string `json:"challenger_guild_id"`
		TargetGuildID     string `json:"target_guild_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	war, err := h.Wars.DeclareWar(c.Context(), req.ChallengerGuildID, req.TargetGuildID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(war)
}

func (h *WarHandler) ListWars(c *fiber.Ctx) error {
	statuses := []models.WarStatus{models.WarStatusPreparation, models.WarStatusActive}
	if raw := c.Query("status"); raw != "" {
		statuses = []models.WarStatus{models.WarStatus(raw)}
	}

	wars, err := h.Store.ListWarsByStatus(c.Context(), statuses...)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"wars": wars})
}

func (h *WarHandler) GetWar(c *fiber.Ctx) error {
	war, err := h.Store.GetWar(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(war)
}

// GetTerritories returns the war map projected for the caller's guild:
// enemy-held territories are reported as "enemy" rather than "friendly".
func (h *WarHandler) GetTerritories(c *fiber.Ctx) error {
	territories, err := h.Store.ListTerritories(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"territories": services.ProjectForViewer(territories, viewerGuild(c))})
}

func (h *WarHandler) GetEvents(c *fiber.Ctx) error {
	events, err := h.Store.ListEvents(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"events": events})
}

func (h *WarHandler) GetParticipants(c *fiber.Ctx) error {
	participants, err := h.Store.ListParticipants(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"participants": participants})
}

func (h *WarHandler) RegisterParticipants(c *fiber.Ctx) error {
	var req struct {
		GuildID   string   `json:"guild_id"`
		MemberIDs []string `json:"member_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	war, err := h.Wars.RegisterParticipants(c.Context(), c.Params("id"), req.GuildID, req.MemberIDs)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(war)
}

func (h *WarHandler) CancelWar(c *fiber.Ctx) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	war, err := h.Store.GetWar(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	if err := h.Wars.CancelWar(c.Context(), war, req.Reason); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(war)
}

func (h *WarHandler) AttackTerritory(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	var req struct {
		GuildID string  `json:"guild_id"`
		Force   float64 `json:"force"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	result, err := h.Territories.Attack(c.Context(), c.Params("territory_id"), req.GuildID, userID, req.Force)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(result)
}

func (h *WarHandler) ReinforceTerritory(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	var req struct {
		GuildID string  `json:"guild_id"`
		Amount  float64 `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	territory, err := h.Territories.Reinforce(c.Context(), c.Params("territory_id"), req.GuildID, userID, req.Amount)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(territory)
}

func (h *WarHandler) ListArchives(c *fiber.Ctx) error {
	keys, err := h.Archive.ListArchivedKeys(c.Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"keys": keys})
}

func (h *WarHandler) GetArchivedWar(c *fiber.Ctx) error {
	record, err := h.Archive.Retrieve(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(record)
}
