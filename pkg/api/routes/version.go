package routes

import "github.com/gofiber/fiber/v2"

// Version is set at build time with -ldflags
var Version = "dev"

func APIVersion(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version": Version,
	})
}
