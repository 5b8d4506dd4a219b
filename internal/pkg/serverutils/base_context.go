package serverutils

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// BaseContextMiddleware cancels every request's UserContext when base is
// cancelled. fasthttp request contexts never see process signals, so a
// long-running handler would otherwise outlive the shutdown deadline.
func BaseContextMiddleware(base context.Context) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithCancel(c.UserContext())
		stop := context.AfterFunc(base, cancel)
		defer func() {
			stop()
			cancel()
		}()

		c.SetUserContext(ctx)
		return c.Next()
	}
}
