// Package openapi serves the API description bundled into the binary.
package openapi

import (
	_ "embed"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/strefethen/medassist-go/internal/api"
	"github.com/strefethen/medassist-go/internal/apperrors"
)

//go:embed openapi.yaml
var specYAML []byte

var (
	parseOnce sync.Once
	parsed    any
	parseErr  error
)

// RegisterRoutes wires OpenAPI routes to the router.
func RegisterRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/openapi", api.Handler(serveOpenAPIYAML))
	router.Method(http.MethodGet, "/v1/openapi.json", api.Handler(serveOpenAPIJSON))
}

// Document returns the parsed specification.
func Document() (any, error) {
	parseOnce.Do(func() {
		parseErr = yaml.Unmarshal(specYAML, &parsed)
	})
	return parsed, parseErr
}

func serveOpenAPIYAML(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(specYAML)
	return nil
}

func serveOpenAPIJSON(w http.ResponseWriter, r *http.Request) error {
	doc, err := Document()
	if err != nil {
		return apperrors.NewInternalError("Failed to parse OpenAPI specification")
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	return api.WriteJSON(w, http.StatusOK, doc)
}
