package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"contractrag/types"
)

// ErrorHandler renders every failure as {"detail": "..."} with a status
// derived from the error taxonomy.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return c.Status(apiErr.Code).JSON(apiErr)
	}

	var valErr types.ValidationError
	if errors.As(err, &valErr) {
		return c.Status(valErr.Status).JSON(ValidationResponse{
			Detail: "validation failed",
			Errors: valErr.Errors,
		})
	}

	code, detail := classify(err)
	if code >= fiber.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"code", code,
			"error", err,
		)
	}
	return c.Status(code).JSON(NewError(code, detail))
}

func classify(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "analysis timed out"
	case errors.Is(err, types.ErrValidation):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, types.ErrUnsupportedFormat), errors.Is(err, types.ErrCorruptFile), errors.Is(err, types.ErrExtraction):
		return fiber.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, types.ErrNotFound):
		return fiber.StatusNotFound, "not found"
	case errors.Is(err, types.ErrRateLimited):
		return fiber.StatusTooManyRequests, "model provider is rate limiting requests, try again later"
	case errors.Is(err, types.ErrModel), errors.Is(err, types.ErrEmbeddingService):
		return fiber.StatusBadGateway, "AI analysis failed: " + err.Error()
	case errors.Is(err, types.ErrIndexUnavailable), errors.Is(err, types.ErrDimensionMismatch):
		return fiber.StatusServiceUnavailable, "knowledge base is temporarily unavailable"
	}
	return fiber.StatusInternalServerError, "internal server error"
}

type Error struct {
	Code   int    `json:"-"`
	Detail string `json:"detail"`
}

type ValidationResponse struct {
	Detail string            `json:"detail"`
	Errors map[string]string `json:"errors"`
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Detail
}

func NewError(code int, detail string) Error {
	return Error{
		Code:   code,
		Detail: detail,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:   fiber.StatusBadRequest,
		Detail: "invalid JSON request",
	}
}

func ErrInvalidID() Error {
	return Error{
		Code:   fiber.StatusBadRequest,
		Detail: "invalid id given",
	}
}

func ErrMissingFile() Error {
	return Error{
		Code:   fiber.StatusBadRequest,
		Detail: "multipart field 'file' is required",
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:   fiber.StatusNotFound,
		Detail: fmt.Sprintf("%s with %v not found", resource, arg),
	}
}
