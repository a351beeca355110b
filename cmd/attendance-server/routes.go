package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (app *application) routes() http.Handler {
	mux := chi.NewRouter()

	mux.NotFound(app.notFound)
	mux.MethodNotAllowed(app.methodNotAllowed)

	mux.Use(app.traceID)
	mux.Use(app.logAccess)
	mux.Use(app.recoverPanic)

	mux.Use(app.CORS)

	mux.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", app.handleStatus)
		r.Get("/config", app.handleConfig)
		r.Get("/presence", app.handlePresence)
		r.Get("/hours", app.handleTotals)

		r.Get("/users", app.handleFindUsers)
		r.Post("/users", app.handleAddUser)
		r.Put("/users/{userId}/hardware-address", app.handleBindHardwareAddr)
		r.Get("/users/{userId}/hours", app.handleUserHours)
		r.Get("/users/{userId}/sessions", app.handleUserSessions)
	})

	app.logger.Debug("routes configured", "routes", chiRoutesToStrings(mux))

	return mux
}

func chiRoutesToStrings(routes chi.Routes) []string {
	parsedRoutes := make([]string, 0)
	_ = chi.Walk(routes, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		parsedRoutes = append(parsedRoutes, method+" "+route)
		return nil
	})
	return parsedRoutes
}
