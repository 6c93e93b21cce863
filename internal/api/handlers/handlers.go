package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/ivr-balance-checker/internal/registry"
	"github.com/acme/ivr-balance-checker/internal/webhook"
	"github.com/acme/ivr-balance-checker/pkg/logger"
)

// Dispatcher turns a provider callback into a script reply.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw webhook.RawEvent) webhook.Reply
	DispatchStatus(ctx context.Context, raw webhook.RawEvent) webhook.Reply
}

// Pinger is a backend the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the handler set.
type Deps struct {
	Dispatcher  Dispatcher
	Registry    *registry.Registry
	Checks      map[string]Pinger
	Logger      *logger.Logger
	WebhookPath string
	StatusPath  string
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	dispatcher  Dispatcher
	registry    *registry.Registry
	checks      map[string]Pinger
	logger      *logger.Logger
	webhookPath string
	statusPath  string
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(deps Deps) *HandlerSet {
	h := &HandlerSet{
		dispatcher:  deps.Dispatcher,
		registry:    deps.Registry,
		checks:      deps.Checks,
		logger:      deps.Logger,
		webhookPath: deps.WebhookPath,
		statusPath:  deps.StatusPath,
	}
	if h.logger == nil {
		h.logger = logger.NewNop()
	}
	if h.registry == nil {
		h.registry = registry.New()
	}
	if h.webhookPath == "" {
		h.webhookPath = "/voice"
	}
	if h.statusPath == "" {
		h.statusPath = "/status"
	}
	return h
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)
	app.Post(h.webhookPath, h.voice)
	app.Post(h.statusPath, h.status)
	app.Get("/sessions/:sid", h.session)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err), zap.String("path", ctx.Path()))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.checks {
		if err := check.Ping(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{
		"status":          state,
		"active_sessions": h.registry.Active(),
		"tracked":         h.registry.Len(),
		"errors":          errs,
	})
}
