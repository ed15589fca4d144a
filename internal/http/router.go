package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/smallbiznis/authcore/internal/config"
	"github.com/smallbiznis/authcore/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/authcore/internal/http/middleware"
	"github.com/smallbiznis/authcore/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/signup", authHandler.Signup)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/social", authHandler.SocialLogin)

		passwordless := authGroup.Group("/passwordless")
		{
			passwordless.POST("/request", authHandler.PasswordlessRequest)
			passwordless.POST("/verify", authHandler.PasswordlessVerify)
		}

		tokenGroup := authGroup.Group("/token")
		{
			tokenGroup.POST("/refresh", authHandler.Refresh)
			tokenGroup.POST("/revoke", authHandler.Logout)
		}

		authGroup.POST("/sessions/revoke-all", authMiddleware.ValidateJWT, authHandler.RevokeAll)
		authGroup.GET("/me", authMiddleware.ValidateJWT, authHandler.Me)
	}

	return r
}
