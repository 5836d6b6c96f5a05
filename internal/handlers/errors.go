package handlers

import (
	"toko-catalog/internal/apperror"

	"github.com/code19m/errx"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// StatusOf maps an error to the HTTP status of its errx type.
func StatusOf(err error) int {
	switch apperror.TypeOf(err) {
	case errx.T_Authentication:
		return fiber.StatusUnauthorized
	case errx.T_Forbidden:
		return fiber.StatusForbidden
	case errx.T_NotFound:
		return fiber.StatusNotFound
	case errx.T_Validation:
		return fiber.StatusBadRequest
	case errx.T_Conflict:
		return fiber.StatusConflict
	case errx.T_Throttling:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// fail writes the {status, message} body shared by every failure. Client errors are "fail",
// server errors "error". Only upstream failures show their message; other server errors are masked.
func fail(c *fiber.Ctx, log *zap.Logger, err error) error {
	code := StatusOf(err)
	status := "fail"
	message := apperror.Message(err)
	if code >= fiber.StatusInternalServerError {
		status = "error"
		fields := []zap.Field{zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err)}
		if e, ok := apperror.Lookup(err); ok {
			fields = append(fields, zap.String("code", e.Code()), zap.Any("details", e.Details()))
		}
		log.Error("request failed", fields...)
		if !apperror.HasCode(err, apperror.CodeUpstream) {
			message = "internal server error"
		}
	}
	return c.Status(code).JSON(fiber.Map{
		"status":  status,
		"message": message,
	})
}

func failWith(c *fiber.Ctx, code int, message string) error {
	status := "fail"
	if code >= fiber.StatusInternalServerError {
		status = "error"
	}
	return c.Status(code).JSON(fiber.Map{
		"status":  status,
		"message": message,
	})
}
