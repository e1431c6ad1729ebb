package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/straye-as/sales-pipeline-api/internal/config"
	"go.uber.org/zap"
)

func isLocalEnvironment(environment string) bool {
	return environment == "" || environment == "development" || environment == "local"
}

func anyOrigin(_ *http.Request, origin string) bool {
	return origin != ""
}

func noOrigin(_ *http.Request, _ string) bool {
	return false
}

// CORS returns a CORS middleware configured from the application config.
// Without configured origins every origin is allowed locally and none
// elsewhere.
func CORS(cfg *config.CORSConfig, environment string, logger *zap.Logger) func(http.Handler) http.Handler {
	options := cors.Options{
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   cfg.ExposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}

	wildcard := false
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			wildcard = true
			break
		}
	}

	switch {
	case wildcard:
		if !isLocalEnvironment(environment) {
			logger.Warn("CORS configured with wildcard origin outside development",
				zap.String("environment", environment))
		}
		options.AllowOriginFunc = anyOrigin
	case len(cfg.AllowedOrigins) > 0:
		options.AllowedOrigins = cfg.AllowedOrigins
		logger.Info("CORS configured with explicit origins", zap.Strings("origins", cfg.AllowedOrigins))
	case isLocalEnvironment(environment):
		options.AllowOriginFunc = anyOrigin
		logger.Info("CORS allowing all origins in development mode")
	default:
		// an empty AllowedOrigins means "*" to go-chi/cors
		options.AllowOriginFunc = noOrigin
		logger.Warn("CORS configured with no allowed origins, cross-origin requests will be denied",
			zap.String("environment", environment))
	}

	return cors.Handler(options)
}
