package httpserver

import (
	"log/slog"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/napstar/Voting-App/internal/adapter/metrics"
	"github.com/napstar/Voting-App/web"
)

const voteBodyLimit = "4K"

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics.Middleware())
	}
	s.echo.Use(ErrorHandlingMiddleware(s.errorCounter()))
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		HSTSPreloadEnabled: true,
		ContentSecurityPolicy: "default-src 'self'; " +
			"script-src 'self' 'unsafe-inline'; " +
			"style-src 'self' 'unsafe-inline'; " +
			"connect-src 'self' ws: wss:; " +
			"frame-ancestors 'none'",
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}))

	s.registerHealthRoutes()

	s.echo.POST("/vote", s.handleVote,
		middleware.BodyLimit(voteBodyLimit),
		newRateLimiter(s.config.VoteRateLimit, s.config.VoteRateBurst),
	)
	s.echo.GET("/poll", s.handlePoll)
	s.echo.GET("/ws", s.websocketHandler)

	if s.registry != nil && s.config.MetricsEnabled {
		s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))
	}

	s.registerStaticRoutes()
}

// registerStaticRoutes serves STATIC_DIR when it exists, the embedded page otherwise.
func (s *Server) registerStaticRoutes() {
	if info, err := os.Stat(s.config.StaticDir); err == nil && info.IsDir() {
		slog.Info("Serving static files from disk", "dir", s.config.StaticDir)
		s.echo.Static("/", s.config.StaticDir)
		return
	}
	s.echo.StaticFS("/", echo.MustSubFS(web.PublicFiles, "public"))
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
