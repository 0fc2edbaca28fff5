package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/sirupsen/logrus"
)

// setupMiddleware installs panic recovery, request logging and CORS.
func setupMiddleware(app *fiber.App, log logrus.FieldLogger) {
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(requestLogger(log))

	// runs are started by POST with a GeoJSON body
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
	}))
}

// requestLogger logs each request through logrus. Runs can take minutes, so
// slow requests are not reported as warnings.
func requestLogger(log logrus.FieldLogger) fiber.Handler {
	log = log.WithField("component", "http")

	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		entry := log.WithFields(logrus.Fields{
			"method":   c.Method(),
			"path":     c.Path(),
			"status":   status,
			"duration": time.Since(start),
		})

		if status >= fiber.StatusInternalServerError {
			entry.WithError(err).Error("Request failed")
		} else {
			entry.Debug("Request served")
		}

		return err
	}
}

// newErrorHandler renders errors as {"error", "code"}. Messages of
// unexpected errors are logged, not returned.
func newErrorHandler(log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			message = fiberErr.Message
		} else {
			log.WithError(err).Error("Unhandled API error")
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
			"code":  code,
		})
	}
}
