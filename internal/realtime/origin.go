package realtime

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// OriginPolicy decide que origenes de navegador pueden abrir el socket.
type OriginPolicy struct {
	logger   *zap.Logger
	allowAll bool
	allowed  map[string]struct{}
}

// NewOriginPolicy normaliza los origenes configurados; "*" permite cualquiera.
func NewOriginPolicy(logger *zap.Logger, origins ...string) *OriginPolicy {
	p := &OriginPolicy{
		logger:  logger,
		allowed: make(map[string]struct{}, len(origins)),
	}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

// Check se usa como websocket.Upgrader.CheckOrigin. Sin header Origin (clientes
// que no son navegadores) se acepta.
func (p *OriginPolicy) Check(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" || p.allowAll {
		return true
	}

	normalized, ok := normalizeOrigin(originHeader)
	if ok {
		if _, exists := p.allowed[normalized]; exists {
			return true
		}
	}

	p.logger.Warn("blocked websocket connection from disallowed origin", zap.String("origin", originHeader))
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
