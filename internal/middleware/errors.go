package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/amplio/onboard/internal/apperr"
)

type errorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
}

// ErrorHandler renders every error returned by a handler as
// {"error", "message", "redirect"}. Transport and unexpected failures are
// logged here and answered with a generic message.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *apperr.Error
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &appErr):
			body := errorResponse{Error: string(appErr.Kind), Message: appErr.Message, Redirect: appErr.Target}
			if appErr.Kind == apperr.KindTransport || appErr.Kind == apperr.KindInternal {
				logger.Error("request failed",
					slog.String("path", c.Path()),
					slog.String("request_id", RequestIDFrom(c)),
					slog.Any("error", err),
				)
			}
			return c.Status(apperr.Status(appErr.Kind)).JSON(body)
		case errors.As(err, &fiberErr):
			return c.Status(fiberErr.Code).JSON(errorResponse{Error: "http_error", Message: fiberErr.Message})
		default:
			logger.Error("unhandled error",
				slog.String("path", c.Path()),
				slog.String("request_id", RequestIDFrom(c)),
				slog.Any("error", err),
			)
			return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{
				Error:   string(apperr.KindInternal),
				Message: "internal error",
			})
		}
	}
}

func statusOf(err error) int {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return apperr.Status(appErr.Kind)
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}
