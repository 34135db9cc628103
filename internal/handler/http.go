package handler

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seo-optimizer/pkg/backup"
	"seo-optimizer/pkg/logger"
)

// HTTPHandler exposes a controller over HTTP. Cycles and rollbacks are
// serialised; a second request while one runs gets 409.
type HTTPHandler struct {
	ctrl ControllerInterface
	busy sync.Mutex
	log  *logger.Logger
}

func NewHTTPHandler(ctrl ControllerInterface) *HTTPHandler {
	return &HTTPHandler{ctrl: ctrl, log: logger.ForComponent("http")}
}

// App builds the fiber application. reg may be nil, in which case
// /metrics is not mounted.
func (h *HTTPHandler) App(reg *prometheus.Registry) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "seo-optimizer",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		ErrorHandler:          h.errorHandler,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/status", h.status)
	app.Get("/snapshots", h.snapshots)
	app.Post("/cycles", h.runCycle)
	app.Post("/rollback", h.rollback)
	if reg != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	return app
}

func (h *HTTPHandler) status(c *fiber.Ctx) error {
	st, err := h.ctrl.GetStatus(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (h *HTTPHandler) snapshots(c *fiber.Ctx) error {
	snaps, err := h.ctrl.ListSnapshots()
	if err != nil {
		return err
	}
	if snaps == nil {
		snaps = []backup.Snapshot{}
	}
	return c.JSON(snaps)
}

func (h *HTTPHandler) runCycle(c *fiber.Ctx) error {
	if !h.busy.TryLock() {
		return fiber.NewError(fiber.StatusConflict, "an optimization cycle or rollback is already running")
	}
	defer h.busy.Unlock()

	res, err := h.ctrl.RunCycle(c.UserContext())
	if err != nil {
		h.log.WithError(err).Error("Optimization cycle failed")
		if res == nil {
			return err
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  err.Error(),
			"result": res,
		})
	}
	return c.JSON(res)
}

func (h *HTTPHandler) rollback(c *fiber.Ctx) error {
	if !h.busy.TryLock() {
		return fiber.NewError(fiber.StatusConflict, "an optimization cycle or rollback is already running")
	}
	defer h.busy.Unlock()

	res, err := h.ctrl.Rollback(c.UserContext(), backup.SnapshotID(c.Query("id")))
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *HTTPHandler) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, backup.ErrSnapshotNotFound):
		code = fiber.StatusNotFound
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
