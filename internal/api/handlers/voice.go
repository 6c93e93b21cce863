package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/ivr-balance-checker/internal/webhook"
	apperrors "github.com/acme/ivr-balance-checker/pkg/errors"
)

// ContentTypeScript is the markup type the provider expects back.
const ContentTypeScript = "text/xml"

// voice answers call and gather callbacks with a script document.
func (h *HandlerSet) voice(ctx *fiber.Ctx) error {
	reply := h.dispatcher.Dispatch(ctx.UserContext(), h.decode(ctx))
	ctx.Set(fiber.HeaderContentType, ContentTypeScript)
	return ctx.Status(fiber.StatusOK).SendString(reply.Body)
}

// status takes call progress callbacks. Only terminal statuses reach the session.
func (h *HandlerSet) status(ctx *fiber.Ctx) error {
	reply := h.dispatcher.DispatchStatus(ctx.UserContext(), h.decode(ctx))
	h.logger.Debug("status callback", zap.String("reply", reply.Kind.String()))
	return ctx.SendStatus(fiber.StatusNoContent)
}

// decode never fails; an unparsable body becomes an empty event, which dispatches to a hangup.
func (h *HandlerSet) decode(ctx *fiber.Ctx) webhook.RawEvent {
	var raw webhook.RawEvent
	if err := ctx.BodyParser(&raw); err != nil {
		h.logger.Warn("webhook: decode body", zap.Error(err), zap.String("content_type", string(ctx.Request().Header.ContentType())))
		return webhook.RawEvent{}
	}
	return raw
}

func (h *HandlerSet) session(ctx *fiber.Ctx) error {
	sid := ctx.Params("sid")
	s, ok := h.registry.Lookup(sid)
	if !ok {
		return translateError(fmt.Errorf("session %s: %w", sid, apperrors.ErrUnknownSession))
	}

	balance, provisional := s.Balance()
	return ctx.JSON(fiber.Map{
		"session_id":      s.ID.String(),
		"call_sid":        sid,
		"card":            s.Item.MaskedIdentifier(),
		"status":          s.Status(),
		"navigation_sent": s.NavigationSent(),
		"balance":         balance,
		"provisional":     provisional,
		"utterances":      len(s.Transcript()),
	})
}
