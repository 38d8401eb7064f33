// Package server exposes the aggregation core over HTTP. Handlers stay
// thin: parse, delegate, render.
package server

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/rafamrn/solarsight/pkg/aggregate"
	"github.com/rafamrn/solarsight/pkg/cache"
	"github.com/rafamrn/solarsight/pkg/performance"
	"github.com/rafamrn/solarsight/pkg/provider"
	"github.com/rafamrn/solarsight/pkg/store"
)

// Server wires the HTTP layer over the aggregation core.
type Server struct {
	app   *fiber.App
	agg   *aggregate.Aggregator
	perf  *performance.Service
	store *store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// New builds the fiber app and registers every route.
func New(agg *aggregate.Aggregator, perf *performance.Service, st *store.Store, log zerolog.Logger) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "solarsight",
			DisableStartupMessage: true,
		}),
		agg:   agg,
		perf:  perf,
		store: st,
		log:   log.With().Str("component", "server").Logger(),
		now:   time.Now,
	}

	s.app.Use(recover.New())
	s.app.Use(s.requestLogger)

	s.app.Get("/health", s.handleHealth)

	s.app.Get("/integrations", s.withAccount(s.handleListIntegrations))
	s.app.Post("/integrations", s.withAccount(s.handleCreateIntegration))
	s.app.Delete("/integrations/:id", s.withAccount(s.handleDeleteIntegration))

	s.app.Get("/plants", s.withAccount(s.handlePlants))
	s.app.Get("/plants/:id/devices", s.withAccount(s.handleDevices))

	s.app.Get("/performance/daily", s.withAccount(s.performanceHandler(cache.KindDaily)))
	s.app.Get("/performance/7days", s.withAccount(s.performanceHandler(cache.KindSevenDay)))
	s.app.Get("/performance/30days", s.withAccount(s.performanceHandler(cache.KindThirtyDay)))
	s.app.Post("/performance/recalculate", s.withAccount(s.handleRecalculate))

	s.app.Get("/generation", s.withAccount(s.handleGeneration))
	s.app.Get("/generation/day", s.withAccount(s.handleGenerationDay))
	s.app.Get("/generation/month", s.withAccount(s.handleGenerationMonth))
	s.app.Get("/generation/year", s.withAccount(s.handleGenerationYear))

	s.app.Get("/projections/:plant_id", s.withAccount(s.handleListProjections))
	s.app.Post("/projections", s.withAccount(s.handleSaveProjections))

	return s
}

// Listen serves until the listener fails or Shutdown is called.
func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown() error { return s.app.Shutdown() }

// App exposes the fiber app, for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := s.now()
	err := c.Next()
	s.log.Info().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("elapsed", s.now().Sub(start)).
		Msg("request")
	return err
}

// accountHandler is a handler that already knows which account it serves.
type accountHandler func(c *fiber.Ctx, accountID int64) error

// withAccount resolves the calling account from the X-Account-ID header.
func (s *Server) withAccount(h accountHandler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get("X-Account-ID")
		if raw == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing X-Account-ID header")
		}
		accountID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || accountID <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid X-Account-ID header")
		}
		return h(c, accountID)
	}
}

// renderErr maps core errors onto HTTP statuses.
func renderErr(err error) error {
	switch {
	case errors.Is(err, aggregate.ErrNoUsableIntegration):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	case errors.Is(err, provider.ErrPlantNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, provider.ErrSeriesUnavailable):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, provider.ErrAuthenticationFailed):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "time": s.now().UTC()})
}

func (s *Server) handleListIntegrations(c *fiber.Ctx, accountID int64) error {
	integs, err := s.store.ListIntegrations(c.Context(), accountID)
	if err != nil {
		return renderErr(err)
	}
	return c.JSON(integs)
}

func (s *Server) handleCreateIntegration(c *fiber.Ctx, accountID int64) error {
	var body struct {
		Provider  string `json:"provider"`
		Username  string `json:"username"`
		Secret    string `json:"secret"`
		AppKey    string `json:"app_key"`
		AccessKey string `json:"access_key"`
		AppID     string `json:"app_id"`
		AppSecret string `json:"app_secret"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if !provider.Kind(body.Provider).IsValid() {
		return fiber.NewError(fiber.StatusBadRequest, "provider must be sungrow, deye or huawei")
	}
	if body.Username == "" || body.Secret == "" {
		return fiber.NewError(fiber.StatusBadRequest, "username and secret are required")
	}

	integ := &store.Integration{
		AccountID: accountID,
		Provider:  body.Provider,
		Username:  body.Username,
		Secret:    body.Secret,
		AppKey:    body.AppKey,
		AccessKey: body.AccessKey,
		AppID:     body.AppID,
		AppSecret: body.AppSecret,
		Active:    true,
	}
	if err := s.store.CreateIntegration(c.Context(), integ); err != nil {
		return renderErr(err)
	}
	return c.Status(fiber.StatusCreated).JSON(integ)
}

func (s *Server) handleDeleteIntegration(c *fiber.Ctx, accountID int64) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid integration id")
	}
	deleted, err := s.store.DeleteIntegration(c.Context(), accountID, id)
	if err != nil {
		return renderErr(err)
	}
	if !deleted {
		return fiber.NewError(fiber.StatusNotFound, "integration not found")
	}
	s.agg.DropClient(id)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handlePlants(c *fiber.Ctx, accountID int64) error {
	plants, err := s.agg.ListUnifiedPlants(c.Context(), accountID)
	if err != nil {
		return renderErr(err)
	}
	return c.JSON(plants)
}

func (s *Server) handleDevices(c *fiber.Ctx, accountID int64) error {
	snap, err := s.agg.DeviceDetails(c.Context(), accountID, c.Params("id"))
	if err != nil {
		return renderErr(err)
	}
	return c.JSON(snap)
}

func (s *Server) performanceHandler(kind string) accountHandler {
	return func(c *fiber.Ctx, accountID int64) error {
		force := c.QueryBool("force")
		report, err := s.perf.Get(c.Context(), accountID, kind, force)
		if err != nil {
			return renderErr(err)
		}
		return c.JSON(report)
	}
}

func (s *Server) handleRecalculate(c *fiber.Ctx, accountID int64) error {
	var body struct {
		PlantIDs []string `json:"plant_ids"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	reports, err := s.perf.Recalculate(c.Context(), accountID, body.PlantIDs)
	if err != nil {
		return renderErr(err)
	}
	return c.JSON(reports)
}

func (s *Server) handleGeneration(c *fiber.Ctx, accountID int64) error {
	series, err := s.agg.Generation(c.Context(), accountID)
	if err != nil {
		return renderErr(err)
	}
	return c.JSON(series)
}

func (s *Server) handleGenerationDay(c *fiber.Ctx, accountID int64) error {
	plantID := c.Query("plant_id")
	if plantID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "plant_id is required")
	}
	day := s.now().AddDate(0, 0, -1)
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		day = parsed
	}
	series, err := s.agg.GenerationForDay(c.Context(), accountID, plantID, day)
	if err != nil {
		return renderErr(err)
	}
	return c.JSON(series)
}

func (s *Server) handleGenerationMonth(c *fiber.Ctx, accountID int64) error {
	plantID := c.Query("plant_id")
	if plantID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "plant_id is required")
	}
	anchor := s.now().AddDate(0, 0, -1)
	year := c.QueryInt("year", anchor.Year())
	month := c.QueryInt("month", int(anchor.Month()))
	if month < 1 || month > 12 {
		return fiber.NewError(fiber.StatusBadRequest, "month must be 1-12")
	}
	series, err := s.agg.GenerationForMonth(c.Context(), accountID, plantID, year, time.Month(month))
	if err != nil {
		return renderErr(err)
	}
	return c.JSON(series)
}

func (s *Server) handleGenerationYear(c *fiber.Ctx, accountID int64) error {
	plantID := c.Query("plant_id")
	if plantID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "plant_id is required")
	}
	year := c.QueryInt("year", s.now().AddDate(0, 0, -1).Year())
	series, err := s.agg.GenerationForYear(c.Context(), accountID, plantID, year)
	if err != nil {
		return renderErr(err)
	}
	return c.JSON(series)
}

func (s *Server) handleListProjections(c *fiber.Ctx, accountID int64) error {
	plantID := c.Params("plant_id")
	year := c.QueryInt("year", s.now().Year())
	projections, err := s.store.ListProjections(c.Context(), accountID, plantID, year)
	if err != nil {
		return renderErr(err)
	}
	return c.JSON(projections)
}

func (s *Server) handleSaveProjections(c *fiber.Ctx, accountID int64) error {
	var body struct {
		PlantID string             `json:"plant_id"`
		Year    int                `json:"year"`
		Months  []store.MonthValue `json:"months"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if body.PlantID == "" || body.Year == 0 || len(body.Months) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "plant_id, year and months are required")
	}
	for _, m := range body.Months {
		if m.Month < 1 || m.Month > 12 {
			return fiber.NewError(fiber.StatusBadRequest, "months must be 1-12")
		}
		if m.KWh < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "projection kwh must be non-negative")
		}
	}
	if err := s.store.ReplaceProjections(c.Context(), accountID, body.PlantID, body.Year, body.Months); err != nil {
		return renderErr(err)
	}

	// New projections change the expected figures, so the plant's cached
	// rows are recomputed right away. A failure here leaves the save intact;
	// the next refresh picks the change up.
	if _, err := s.perf.Recalculate(c.Context(), accountID, []string{body.PlantID}); err != nil {
		s.log.Warn().Err(err).Str("plant_id", body.PlantID).
			Int64("account_id", accountID).Msg("post-save recalculation failed")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
