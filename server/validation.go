package server

import (
	"fmt"
	"net"
	"net/url"
)

// validateHTTPSEnforcement ensures the issuer is served over HTTPS.
//
//   - HTTPS issuers are always allowed
//   - HTTP on localhost is allowed with a warning (development)
//   - HTTP elsewhere is rejected unless AllowInsecureHTTP is set
func (s *Server) validateHTTPSEnforcement() error {
	if s.Config.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}

	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}

	hostname := issuerURL.Hostname()
	if isLocalhostHostname(hostname) {
		if !s.Config.AllowInsecureHTTP {
			s.Logger.Warn("DEVELOPMENT WARNING: issuing tokens over HTTP on localhost",
				"issuer", s.Config.Issuer,
				"to_suppress", "Set AllowInsecureHTTP=true in Config")
		}
		return nil
	}

	if !s.Config.AllowInsecureHTTP {
		return fmt.Errorf("SECURITY ERROR: issuer must use HTTPS (got %s://%s); "+
			"set AllowInsecureHTTP=true only for development", issuerURL.Scheme, hostname)
	}

	s.Logger.Error("CRITICAL SECURITY WARNING: issuing tokens over HTTP",
		"issuer", s.Config.Issuer,
		"hostname", hostname,
		"action_required", "Switch to HTTPS")
	return nil
}

// isLocalhostHostname checks if a hostname refers to the local machine:
// localhost, 0.0.0.0 and any loopback IP.
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}

	clean := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		clean = hostname[1 : len(hostname)-1]
	}
	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
