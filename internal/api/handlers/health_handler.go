package handlers

import "github.com/gofiber/fiber/v2"

const ServiceName = "Nebula Onboarding AI"

func HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": ServiceName,
	})
}
