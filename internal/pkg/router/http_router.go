package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mkessels/paybridge/app/controllers"
)

type HttpRouter struct {
	webhooks *controllers.WebhookController
}

func NewHttpRouter(webhooks *controllers.WebhookController) *HttpRouter {
	return &HttpRouter{webhooks: webhooks}
}

func (h *HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/up", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	hooks := app.Group("/webhooks")
	hooks.Post("/orders", h.webhooks.HandleOrderWebhook)
	hooks.Post("/payments", h.webhooks.HandlePaymentWebhook)
}
