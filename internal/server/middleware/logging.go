// Package middleware holds the transport middleware of the HTTP server.
package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/uuid"
)

// slowRequestThreshold marks admin requests worth a warning.
const slowRequestThreshold = 2 * time.Second

// Logging returns a middleware that logs method, path, status and duration
// of every request.
func Logging(logger *log.Helper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				operation string
				method    string
				path      string
				ip        string
				requestID string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				operation = tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					ip = extractClientIP(httpReq)

					requestID = httpReq.Header.Get("X-Request-ID")
					if requestID == "" {
						requestID = httpReq.Header.Get("x-rp-unique_id")
					}
				}
			}
			if requestID == "" {
				requestID = uuid.NewString()
			}

			reply, err := handler(ctx, req)

			duration := time.Since(startTime)
			status := 200
			if err != nil {
				status = int(errors.FromError(err).Code)
			}

			keyvals := []interface{}{
				"msg", "request handled",
				"request_id", requestID,
				"operation", operation,
				"method", method,
				"path", path,
				"status", status,
				"duration_ms", duration.Milliseconds(),
				"ip", ip,
			}
			switch {
			case status >= 500:
				logger.Errorw(append(keyvals, "error", err)...)
			case duration > slowRequestThreshold:
				logger.Warnw(append(keyvals, "slow", true)...)
			default:
				logger.Infow(keyvals...)
			}

			return reply, err
		}
	}
}

// extractClientIP returns the client address.
// Priority: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	return req.RemoteAddr
}
