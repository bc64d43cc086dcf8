package routes

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/ctdf"
	"github.com/travigo/livetrains/pkg/realtime/portalpasazera"
	"github.com/travigo/livetrains/pkg/realtime/traindetails"
	"golang.org/x/exp/slices"
)

const detailsTimeout = 30 * time.Second

// Feed is the read side of the live position stream
type Feed interface {
	Positions() []*ctdf.TrainPosition
	Position(trainNumber string) (*ctdf.TrainPosition, bool)
	CurrentSpeedFor(trainNumber string) (float64, ctdf.SpeedCategory)
	TrainIDFor(trainNumber string) (int64, bool)
	SetGPSFilter(enabled bool)
	GPSFilterEnabled() bool
	LastUpdate() time.Time
	State() portalpasazera.State
	TrackedTrains() int
}

type Details interface {
	GetTrainDetails(ctx context.Context, trainNumber string) (*ctdf.TrainDetails, error)
	GetTrainTrack(ctx context.Context, trainNumber string) (*ctdf.TrainTrackInfo, error)
}

func TrainsRouter(router fiber.Router, feed Feed, details Details) {
	router.Get("/", listTrains(feed))
	router.Get("/:number", getTrain(feed))
	router.Get("/:number/details", getTrainDetails(details))
	router.Get("/:number/track", getTrainTrack(details))
}

func FilterRouter(router fiber.Router, feed Feed) {
	router.Get("/gps", getGPSFilter(feed))
	router.Put("/gps", setGPSFilter(feed))
}

func StatusRouter(router fiber.Router, feed Feed) {
	router.Get("/", func(c *fiber.Ctx) error {
		response := fiber.Map{
			"state":          feed.State(),
			"trains":         len(feed.Positions()),
			"tracked_trains": feed.TrackedTrains(),
			"gps_filter":     feed.GPSFilterEnabled(),
		}
		if lastUpdate := feed.LastUpdate(); !lastUpdate.IsZero() {
			response["last_update"] = lastUpdate
		}

		return c.JSON(response)
	})
}

func fieldGroups(c *fiber.Ctx) []string {
	if c.QueryBool("detailed") {
		return []string{"basic", "detailed"}
	}
	return []string{"basic"}
}

func listTrains(feed Feed) fiber.Handler {
	return func(c *fiber.Ctx) error {
		positions := feed.Positions()

		if carrier := c.Query("carrier"); carrier != "" {
			positions = slices.DeleteFunc(positions, func(position *ctdf.TrainPosition) bool {
				return position.Carrier != carrier
			})
		}
		if c.QueryBool("gps_only") {
			positions = slices.DeleteFunc(positions, func(position *ctdf.TrainPosition) bool {
				return !position.HasGPS
			})
		}

		slices.SortStableFunc(positions, func(a, b *ctdf.TrainPosition) int {
			switch {
			case a.Number < b.Number:
				return -1
			case a.Number > b.Number:
				return 1
			default:
				return 0
			}
		})

		positionsReduced, err := sheriff.Marshal(&sheriff.Options{
			Groups: fieldGroups(c),
		}, positions)
		if err != nil {
			c.SendStatus(fiber.StatusInternalServerError)
			return c.JSON(fiber.Map{
				"error": "Sherrif could not reduce positions",
			})
		}

		return c.JSON(positionsReduced)
	}
}

func getTrain(feed Feed) fiber.Handler {
	return func(c *fiber.Ctx) error {
		trainNumber := c.Params("number")

		position, ok := feed.Position(trainNumber)
		if !ok {
			c.SendStatus(fiber.StatusNotFound)
			return c.JSON(fiber.Map{
				"error": "Could not find train matching number",
			})
		}

		positionReduced, err := sheriff.Marshal(&sheriff.Options{
			Groups: []string{"basic", "detailed"},
		}, position)
		if err != nil {
			c.SendStatus(fiber.StatusInternalServerError)
			return c.JSON(fiber.Map{
				"error": "Sherrif could not reduce position",
			})
		}

		speed, category := feed.CurrentSpeedFor(trainNumber)
		trainID, _ := feed.TrainIDFor(trainNumber)

		return c.JSON(fiber.Map{
			"position":       positionReduced,
			"speed":          speed,
			"speed_category": category,
			"train_id":       trainID,
		})
	}
}

func detailsError(c *fiber.Ctx, trainNumber string, err error, partial interface{}) error {
	if errors.Is(err, traindetails.ErrTrainNotFound) {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	log.Error().Err(err).Str("train", trainNumber).Msg("Failed to load train details")

	c.SendStatus(fiber.StatusBadGateway)
	return c.JSON(fiber.Map{
		"error":   err.Error(),
		"partial": partial,
	})
}

func getTrainDetails(details Details) fiber.Handler {
	return func(c *fiber.Ctx) error {
		trainNumber := c.Params("number")

		ctx, cancel := context.WithTimeout(c.UserContext(), detailsTimeout)
		defer cancel()

		trainDetails, err := details.GetTrainDetails(ctx, trainNumber)

		reduced, marshalErr := sheriff.Marshal(&sheriff.Options{
			Groups: fieldGroups(c),
		}, trainDetails)
		if marshalErr != nil {
			c.SendStatus(fiber.StatusInternalServerError)
			return c.JSON(fiber.Map{
				"error": "Sherrif could not reduce train details",
			})
		}

		if err != nil {
			return detailsError(c, trainNumber, err, reduced)
		}

		return c.JSON(reduced)
	}
}

func getTrainTrack(details Details) fiber.Handler {
	return func(c *fiber.Ctx) error {
		trainNumber := c.Params("number")

		ctx, cancel := context.WithTimeout(c.UserContext(), detailsTimeout)
		defer cancel()

		track, err := details.GetTrainTrack(ctx, trainNumber)
		if err != nil {
			return detailsError(c, trainNumber, err, track)
		}

		return c.JSON(track)
	}
}

type gpsFilterRequest struct {
	Enabled *bool `json:"enabled"`
}

func getGPSFilter(feed Feed) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"enabled": feed.GPSFilterEnabled(),
		})
	}
}

func setGPSFilter(feed Feed) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var request gpsFilterRequest
		if err := c.BodyParser(&request); err != nil || request.Enabled == nil {
			c.SendStatus(fiber.StatusBadRequest)
			return c.JSON(fiber.Map{
				"error": "Body must be a JSON object with an enabled boolean",
			})
		}

		feed.SetGPSFilter(*request.Enabled)

		return c.JSON(fiber.Map{
			"enabled": feed.GPSFilterEnabled(),
		})
	}
}
