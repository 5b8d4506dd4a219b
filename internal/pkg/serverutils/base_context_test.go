package serverutils

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func TestBaseContextMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		cancelBase bool
		wantStatus int
	}{
		{name: "base alive", wantStatus: fiber.StatusOK},
		{name: "base cancelled mid-request", cancelBase: true, wantStatus: fiber.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, cancel := context.WithCancel(context.Background())
			defer cancel()

			app := fiber.New()
			app.Use(func(c *fiber.Ctx) error {
				c.SetUserContext(context.WithValue(c.UserContext(), ctxKey{}, "span"))
				return c.Next()
			})
			app.Use(BaseContextMiddleware(base))
			app.Get("/run", func(c *fiber.Ctx) error {
				ctx := c.UserContext()
				// values set by earlier middleware survive
				if ctx.Value(ctxKey{}) != "span" {
					return c.SendStatus(fiber.StatusInternalServerError)
				}
				if tt.cancelBase {
					cancel()
				}
				select {
				case <-ctx.Done():
					return c.SendStatus(fiber.StatusServiceUnavailable)
				case <-time.After(100 * time.Millisecond):
					return c.SendStatus(fiber.StatusOK)
				}
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/run", nil), 2000)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}
