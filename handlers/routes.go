// handlers/routes.go
package handlers

import (
	"pair-sync-system/middleware"

	"github.com/gofiber/fiber/v2"
)

// SetupStubRoutes mounts the stub backend: the sync-store surface and the
// authoritative match API, both behind the shared service token.
func SetupStubRoutes(app *fiber.App, backend *StubBackend, serviceToken string) {
	app.Use(middleware.ServiceAuthMiddleware(serviceToken))

	app.Get("/sync/*", backend.GetNode)
	app.Put("/sync/*", backend.PutNode)

	matches := app.Group("/matches", middleware.MemberContextMiddleware())
	matches.Post("/current", backend.CurrentMatch)
	matches.Post("/:id/turns", backend.SubmitTurn)
}
