package router

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rs/zerolog"
)

// newUIProxy builds the fallback handler for requests outside /api, /ics and
// /metrics: a reverse proxy to the front-end UI. Returns nil when no proxy
// target is configured, leaving chi's default 404.
func newUIProxy(proxyURL string, logger zerolog.Logger) (http.Handler, error) {
	if proxyURL == "" {
		return nil, nil
	}
	target, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse PROXY_URL: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn().Err(err).Str("path", r.URL.Path).Msg("ui proxy error")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}

	logger.Info().Str("target", proxyURL).Msg("ui proxy enabled")
	return proxy, nil
}
