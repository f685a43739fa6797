package telemetry

import (
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// fiberCarrier adapts fiber's request headers to the propagation API
// so incoming trace context survives the hop.
type fiberCarrier struct {
	c *fiber.Ctx
}

func (fc fiberCarrier) Get(key string) string {
	return fc.c.Get(key)
}

func (fc fiberCarrier) Set(key, value string) {
	fc.c.Set(key, value)
}

func (fc fiberCarrier) Keys() []string {
	keys := make([]string, 0)
	fc.c.Request().Header.VisitAll(func(key, _ []byte) {
		keys = append(keys, string(key))
	})
	return keys
}

var _ propagation.TextMapCarrier = fiberCarrier{}

// FiberMiddleware opens a server span per request and records the
// route and status on it.
func (t *Telemetry) FiberMiddleware() fiber.Handler {
	if !t.enabled {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	tracer := otel.Tracer(t.serviceName)
	propagator := otel.GetTextMapPropagator()

	return func(c *fiber.Ctx) error {
		ctx := propagator.Extract(c.UserContext(), fiberCarrier{c: c})

		ctx, span := tracer.Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Method()),
				attribute.String("url.path", c.Path()),
			),
		)
		defer span.End()

		c.SetUserContext(ctx)
		err := c.Next()

		status := c.Response().StatusCode()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if err != nil || status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, "request failed")
		}
		return err
	}
}
