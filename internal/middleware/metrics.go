package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/amplio/onboard/internal/metrics"
)

// Metrics records request counts and latencies by matched route pattern.
func Metrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = statusOf(err)
		}
		m.ObserveHTTP(c.Method(), c.Route().Path, status, time.Since(start))
		return err
	}
}
