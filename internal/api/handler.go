// Package api exposes the bridge's HTTP admin surface: codec and transform
// endpoints for integration debugging, a health probe and Prometheus metrics.
package api

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hl7bridge/hl7bridge/internal/bridge"
	"github.com/hl7bridge/hl7bridge/internal/hl7"
	"github.com/hl7bridge/hl7bridge/internal/mllp"
	"github.com/hl7bridge/hl7bridge/internal/platform/fhir"
	"github.com/hl7bridge/hl7bridge/internal/platform/middleware"
	"github.com/hl7bridge/hl7bridge/internal/platform/telemetry"
)

// Handler provides the HTTP endpoints. Connector may be nil when no
// downstream target is configured; the send endpoint then answers 503.
type Handler struct {
	Logger    zerolog.Logger
	Metrics   *telemetry.Metrics
	Connector *mllp.Connector

	started time.Time
}

// NewRouter builds the echo instance with the standard middleware chain and
// all routes registered.
func NewRouter(h *Handler) *echo.Echo {
	h.started = time.Now()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(h.Logger))
	e.Use(middleware.Logger(h.Logger))
	e.Use(h.Metrics.Middleware())

	e.GET("/healthz", h.Health)
	e.GET("/metrics", h.Metrics.Handler())

	g := e.Group("/api/v1")
	g.POST("/hl7/parse", h.ParseMessage)
	g.POST("/hl7/transform", h.TransformMessage)
	g.POST("/hl7/send", h.SendMessage)

	return e
}

// Health handles GET /healthz.
func (h *Handler) Health(c echo.Context) error {
	resp := map[string]interface{}{
		"status":             "ok",
		"uptime":             time.Since(h.started).Round(time.Second).String(),
		"messages_received":  h.Metrics.MessagesReceived(),
		"active_connections": h.Metrics.ActiveConnections(),
	}
	if h.Connector != nil {
		resp["target_state"] = h.Connector.State().String()
	}
	return c.JSON(http.StatusOK, resp)
}

// segmentJSON is the JSON representation of a parsed segment.
type segmentJSON struct {
	Name   string     `json:"name"`
	Fields [][]string `json:"fields"`
}

// ParseMessage handles POST /api/v1/hl7/parse.
// It reads raw HL7v2 from the request body and returns parsed JSON.
func (h *Handler) ParseMessage(c echo.Context) error {
	msg, err := readMessage(c)
	if msg == nil {
		return err
	}

	segments := make([]segmentJSON, len(msg.Segments))
	for i, seg := range msg.Segments {
		fields := make([][]string, len(seg.Fields))
		for j := range seg.Fields {
			fields[j] = seg.GetFieldRepeats(j + 1)
		}
		segments[i] = segmentJSON{Name: seg.Name, Fields: fields}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"type":         msg.Type,
		"controlId":    msg.ControlID,
		"version":      msg.Version,
		"sendingApp":   msg.SendingApp,
		"sendingFac":   msg.SendingFac,
		"receivingApp": msg.ReceivingApp,
		"receivingFac": msg.ReceivingFac,
		"segments":     segments,
	})
}

// TransformMessage handles POST /api/v1/hl7/transform.
// It converts a raw HL7v2 message to its FHIR transaction bundle without
// publishing it anywhere.
func (h *Handler) TransformMessage(c echo.Context) error {
	msg, err := readMessage(c)
	if msg == nil {
		return err
	}

	bundle, err := bridge.Convert(msg)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, bundle)
}

// SendMessage handles POST /api/v1/hl7/send.
// It forwards a raw HL7v2 message to the configured downstream target and
// reports the acknowledgment.
func (h *Handler) SendMessage(c echo.Context) error {
	if h.Connector == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "no downstream target configured",
		})
	}

	msg, err := readMessage(c)
	if msg == nil {
		return err
	}

	ack, err := h.Connector.Send(c.Request().Context(), mllp.MessagePayload(msg))
	if err != nil {
		status := http.StatusBadGateway
		if mllp.CodeOf(err) == mllp.CodeAckTimeout {
			status = http.StatusGatewayTimeout
		}
		return c.JSON(status, map[string]string{
			"error": err.Error(),
			"code":  string(mllp.CodeOf(err)),
		})
	}

	msa := ack.GetSegment("MSA")
	return c.JSON(http.StatusOK, map[string]string{
		"ackCode":   msa.GetField(1),
		"controlId": msa.GetField(2),
	})
}

// readMessage reads and parses the raw HL7 request body. On failure it
// writes the 400 itself and returns a nil message.
func readMessage(c echo.Context) (*hl7.Message, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}
	if len(body) == 0 {
		return nil, c.JSON(http.StatusBadRequest, map[string]string{
			"error": "request body is empty",
		})
	}

	msg, err := hl7.Parse(body)
	if err != nil {
		return nil, c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to parse HL7v2 message: " + err.Error(),
		})
	}
	return msg, nil
}
