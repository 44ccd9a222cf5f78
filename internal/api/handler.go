// Package api exposes the simulator's operator command surface of §4.9
// over fiber: REST endpoints for the roster/register/start-stop commands
// and a WebSocket endpoint streaming the event bus, guarded by the same
// JWT middleware pattern the platform uses elsewhere.
package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/fieldbus-sim/rtusim/internal/api/middleware"
	"github.com/fieldbus-sim/rtusim/internal/device"
	"github.com/fieldbus-sim/rtusim/internal/events"
	"github.com/fieldbus-sim/rtusim/internal/server"
)

// TransportOpener opens the configured serial transport on demand; the
// composition root supplies the real go.bug.st/serial implementation.
type TransportOpener func() (server.Transport, error)

// Handler holds the dependencies every route needs.
type Handler struct {
	ops       server.OperatorAPI
	hub       *events.Hub
	openPort  TransportOpener
	jwtConfig middleware.JWTConfig
}

// NewHandler returns a Handler.
func NewHandler(ops server.OperatorAPI, hub *events.Hub, openPort TransportOpener, jwtConfig middleware.JWTConfig) *Handler {
	return &Handler{ops: ops, hub: hub, openPort: openPort, jwtConfig: jwtConfig}
}

// SetupRoutes registers every route on app.
func (h *Handler) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/v1")

	api.Get("/health", h.health)

	auth := middleware.JWTMiddleware(middleware.JWTConfig{
		SecretKey: h.jwtConfig.SecretKey,
		Issuer:    h.jwtConfig.Issuer,
		SkipPaths: []string{"/api/v1/health"},
	})
	api.Use(auth)

	api.Post("/control/start", h.startControl)
	api.Post("/control/stop", h.stopControl)

	devices := api.Group("/devices")
	devices.Get("/", h.listDevices)
	devices.Post("/", h.addDevice)
	devices.Get("/:id", h.getDevice)
	devices.Delete("/:id", h.removeDevice)
	devices.Patch("/:id", h.patchDevice)
	devices.Get("/:id/registers/:addr", h.getRegister)
	devices.Put("/:id/registers/:addr", h.setRegister)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(h.handleEventStream))
}

func (h *Handler) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handler) startControl(c *fiber.Ctx) error {
	transport, err := h.openPort()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if err := h.ops.StartTransport(transport); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "started"})
}

func (h *Handler) stopControl(c *fiber.Ctx) error {
	h.ops.StopTransport()
	return c.JSON(fiber.Map{"status": "stopped"})
}

func (h *Handler) listDevices(c *fiber.Ctx) error {
	return c.JSON(h.ops.ListDevices())
}

type addDeviceRequest struct {
	ID   uint16      `json:"id"`
	Type device.Type `json:"type"`
}

func (h *Handler) addDevice(c *fiber.Ctx) error {
	var req addDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.ops.AddDevice(req.ID, req.Type); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "created"})
}

func (h *Handler) getDevice(c *fiber.Ctx) error {
	id, err := parseDeviceID(c)
	if err != nil {
		return err
	}
	d, err := h.ops.GetDeviceState(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(d)
}

func (h *Handler) removeDevice(c *fiber.Ctx) error {
	id, err := parseDeviceID(c)
	if err != nil {
		return err
	}
	if err := h.ops.RemoveDevice(id); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "removed"})
}

type patchDeviceRequest struct {
	Type    *device.Type    `json:"type,omitempty"`
	Enabled *bool           `json:"enabled,omitempty"`
	SimMode *device.SimMode `json:"sim_mode,omitempty"`
}

func (h *Handler) patchDevice(c *fiber.Ctx) error {
	id, err := parseDeviceID(c)
	if err != nil {
		return err
	}
	var req patchDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.Type != nil {
		if err := h.ops.SetType(id, *req.Type); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	if req.Enabled != nil {
		if err := h.ops.SetEnabled(id, *req.Enabled); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	if req.SimMode != nil {
		if err := h.ops.SetSimMode(id, *req.SimMode); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return c.JSON(fiber.Map{"status": "updated"})
}

func (h *Handler) getRegister(c *fiber.Ctx) error {
	id, err := parseDeviceID(c)
	if err != nil {
		return err
	}
	addr, perr := parseAddr(c)
	if perr != nil {
		return perr
	}
	val, gerr := h.ops.GetRegister(id, addr)
	if gerr != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": gerr.Error()})
	}
	return c.JSON(fiber.Map{"address": addr, "value": val})
}

type setRegisterRequest struct {
	Value uint16 `json:"value"`
}

func (h *Handler) setRegister(c *fiber.Ctx) error {
	id, err := parseDeviceID(c)
	if err != nil {
		return err
	}
	addr, perr := parseAddr(c)
	if perr != nil {
		return perr
	}
	var req setRegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.ops.SetRegister(id, addr, req.Value); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "written"})
}

func (h *Handler) handleEventStream(c *websocket.Conn) {
	client := h.hub.Subscribe()
	defer h.hub.Unsubscribe(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-client.Send:
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func parseDeviceID(c *fiber.Ctx) (uint16, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 16)
	if err != nil {
		return 0, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid device id"})
	}
	return uint16(id), nil
}

func parseAddr(c *fiber.Ctx) (uint16, error) {
	addr, err := strconv.ParseUint(c.Params("addr"), 0, 16)
	if err != nil {
		return 0, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid register address"})
	}
	return uint16(addr), nil
}
