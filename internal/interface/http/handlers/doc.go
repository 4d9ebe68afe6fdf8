// Package handlers contains reusable HTTP building blocks for the API
// server: health checks and middleware.
//
// # Health Checks
//
// The CompositeHealthChecker runs named checks in parallel, each under its
// own timeout:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("database", handlers.NewPingCheck(db))
//	checker.AddCheck("catalog", handlers.NewBreakerCheck(adapter.Breaker()))
//
// # Middleware
//
//	auth, _ := handlers.NewOperatorAuth(cfg.Operator.KeyHash)
//	limiter := handlers.NewRateLimiter(20, 40, 10*time.Minute)
//
//	handler := handlers.ChainHandler(
//	    mux,
//	    handlers.SecurityHeadersMiddleware,
//	    limiter.Middleware,
//	)
package handlers
