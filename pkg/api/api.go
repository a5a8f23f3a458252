// Package api exposes the gateway's control surface: the message channel
// clients use to query the version, warm caches, trigger syncs and record
// chat telemetry, plus the push intake endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/stefanjohn16/edgecache/pkg/worker"
)

// Message types accepted on the control channel.
const (
	MsgSkipWaiting   = "SKIP_WAITING"
	MsgGetVersion    = "GET_VERSION"
	MsgCacheURLs     = "CACHE_URLS"
	MsgTriggerSync   = "TRIGGER_SYNC"
	MsgAIInteraction = "AI_INTERACTION"
)

const maxControlBody = 256 << 10

var nopLogger = zap.NewNop()

type Opts struct {
	Worker *worker.Worker
	Logger *zap.Logger
}

func (opts *Opts) Init() error {
	if opts.Worker == nil {
		return errors.New("nil worker")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// Controller wires the control routes onto an echo instance.
type Controller struct {
	opts Opts
}

func NewController(opts Opts) (*Controller, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &Controller{opts: opts}, nil
}

// Register mounts the control routes on e.
func (c *Controller) Register(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.POST("/control", c.HandleControl)
	e.POST("/push", c.HandlePush)
	e.GET("/healthz", c.Healthz)
}

// controlMessage is the envelope every control request carries. Type
// selects the operation; the remaining fields are operation-specific.
type controlMessage struct {
	Type string `json:"type"`

	// CACHE_URLS
	URLs []string `json:"urls,omitempty"`

	// AI_INTERACTION
	InteractionType string          `json:"interactionType,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// HandleControl dispatches one control message. Unknown types are
// rejected so client typos surface instead of silently no-opping.
func (c *Controller) HandleControl(ctx echo.Context) error {
	var msg controlMessage
	body := io.LimitReader(ctx.Request().Body, maxControlBody)
	if err := json.NewDecoder(body).Decode(&msg); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid control message"})
	}

	w := c.opts.Worker
	reqCtx := ctx.Request().Context()

	switch msg.Type {
	case MsgSkipWaiting:
		// Promotion is immediate in a single-process gateway: activating
		// means dropping the previous version's partitions now.
		if err := w.Activate(reqCtx); err != nil {
			c.opts.Logger.Error("skip waiting failed", zap.Error(err))
			return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "activation failed"})
		}
		return ctx.JSON(http.StatusOK, map[string]any{"activated": true, "version": w.Version()})

	case MsgGetVersion:
		return ctx.JSON(http.StatusOK, map[string]string{"version": w.Version()})

	case MsgCacheURLs:
		if len(msg.URLs) == 0 {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "no urls given"})
		}
		cacheCtx, cancel := context.WithTimeout(reqCtx, 2*time.Minute)
		defer cancel()
		cached := w.CacheURLs(cacheCtx, msg.URLs)
		return ctx.JSON(http.StatusOK, map[string]any{"cached": cached, "requested": len(msg.URLs)})

	case MsgTriggerSync:
		w.TriggerSync()
		return ctx.JSON(http.StatusAccepted, map[string]bool{"syncing": true})

	case MsgAIInteraction:
		if msg.InteractionType == "" {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing interactionType"})
		}
		rec, err := w.EnqueueAIInteraction(reqCtx, msg.InteractionType, msg.Data)
		if err != nil {
			c.opts.Logger.Error("ai interaction enqueue failed", zap.Error(err))
			return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
		}
		return ctx.JSON(http.StatusAccepted, map[string]string{"id": rec.ID})

	default:
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "unknown message type: " + msg.Type})
	}
}

// HandlePush accepts a raw push payload and hands it to the worker, which
// forwards a notification through the configured relay.
func (c *Controller) HandlePush(ctx echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxControlBody))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}
	if err := c.opts.Worker.HandlePush(ctx.Request().Context(), raw); err != nil {
		c.opts.Logger.Warn("push forwarding failed", zap.Error(err))
		return ctx.JSON(http.StatusBadGateway, map[string]string{"error": "notification relay unavailable"})
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (c *Controller) Healthz(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": c.opts.Worker.Version(),
	})
}
