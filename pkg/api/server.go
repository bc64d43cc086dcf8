package api

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/travigo/livetrains/pkg/api/routes"
	"github.com/travigo/livetrains/pkg/gtfsrt"
)

type Options struct {
	Feed    routes.Feed
	Details routes.Details
	// Prometheus handler, /metrics is not registered when nil
	Metrics http.Handler
	Now     func() time.Time
}

func NewApp(options Options) *fiber.App {
	if options.Now == nil {
		options.Now = time.Now
	}

	webApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	webApp.Use(NewLogger())

	webApp.Get("version", routes.APIVersion)

	routes.TrainsRouter(webApp.Group("/trains"), options.Feed, options.Details)
	routes.FilterRouter(webApp.Group("/filter"), options.Feed)
	routes.StatusRouter(webApp.Group("/status"), options.Feed)

	webApp.Get("/gtfs-rt/vehicle-positions", func(c *fiber.Ctx) error {
		feed := gtfsrt.VehiclePositions(options.Feed.Positions(), options.Now())

		humanReadable := c.Query("format") == "text"
		data, err := gtfsrt.Marshal(feed, humanReadable)
		if err != nil {
			return err
		}

		if humanReadable {
			c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		} else {
			c.Set(fiber.HeaderContentType, "application/x-protobuf")
		}
		return c.Send(data)
	})

	if options.Metrics != nil {
		webApp.Get("/metrics", adaptor.HTTPHandler(options.Metrics))
	}

	return webApp
}
