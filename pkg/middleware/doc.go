// Package middleware provides net/http middleware for applications served
// by hotrun.
//
// # Prometheus Metrics
//
// Prometheus counts requests and observes their duration by route pattern:
//
//   - hotrun_app_requests_total{method,route,status}
//   - hotrun_app_request_duration_seconds{method,route}
//
// Install it on the router of every server the factory creates:
//
//	r := a.Router()
//	r.Use(middleware.Prometheus())
//
// Collectors are created once per registry and shared by every server
// built on it, so an entry module may install the middleware in each
// server its factory creates. With the default registry hotrun dev serves
// them on /__hotrun/metrics next to its own.
//
// # OpenTelemetry
//
// OpenTelemetry starts a server span per request and stores it in the
// request context:
//
//	r.Use(middleware.OpenTelemetry(middleware.WithTracerName("shop")))
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    span := trace.SpanFromContext(r.Context())
//	    span.SetAttributes(attribute.Int("shop.items", 3))
//	}
//
// The tracer comes from the global provider unless WithTracer is given.
package middleware
