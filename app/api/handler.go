package api

import (
	"github.com/gofiber/fiber/v2"

	"contractrag/app/agent"
	"contractrag/types"
)

// RequestHandler answers free-form questions from the indexed reference texts.
type RequestHandler struct {
	analyzer *agent.Analyzer
}

func NewRequestHandler(analyzer *agent.Analyzer) *RequestHandler {
	return &RequestHandler{
		analyzer: analyzer,
	}
}

func (h *RequestHandler) HandleRequest(c *fiber.Ctx) error {
	var params types.AskParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}

	resp, err := h.analyzer.Ask(c.UserContext(), params)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}
