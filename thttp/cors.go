package thttp

import (
	"net/http"

	"github.com/gorilla/handlers"
)

var (
	allowedMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
	}
	allowedHeaders = []string{
		"Authorization",
		"Cache-Control",
		"Content-Type",
		"If-Modified-Since",
		"Range",
		"User-Agent",
		"X-Requested-With",
	}
	exposedHeaders = []string{
		"Content-Length",
		"Content-Range",
	}
)

// CORS is a middleware that allows cross-origin requests
var CORS = handlers.CORS(
	handlers.AllowedMethods(allowedMethods),
	handlers.AllowedHeaders(allowedHeaders),
	handlers.ExposedHeaders(exposedHeaders),
	handlers.AllowedOrigins([]string{"*"}),
)
