package filter

import (
	"strings"

	"github.com/yourorg/promptcap/internal/config"
	"github.com/yourorg/promptcap/pkg/types"
)

// CaptureConfig is an alias of config.CaptureConfig.
type CaptureConfig = config.CaptureConfig

// Reason explains why a request was skipped.
type Reason string

const (
	Qualified Reason = ""
	SkipHost  Reason = "skipped_host"
	SkipEmpty Reason = "skipped_empty"
	SkipJSON  Reason = "skipped_json"
	SkipPath  Reason = "skipped_path"
)

// Precheck applies the checks that need no body parsing, in order: host,
// then body presence. The JSON check sits between Precheck and PathMatches
// and belongs to the caller, which needs the parsed body anyway.
func Precheck(req types.ObservedRequest, cfg CaptureConfig) Reason {
	if !HostMatches(req.Host, cfg.ProviderHost) {
		return SkipHost
	}
	if len(req.Content) == 0 {
		return SkipEmpty
	}
	return Qualified
}

// HostMatches reports whether host contains the provider domain.
func HostMatches(host, providerHost string) bool {
	providerHost = strings.TrimSpace(providerHost)
	if providerHost == "" {
		return false
	}
	return strings.Contains(host, providerHost)
}

// PathMatches reports whether the request path contains the endpoint marker.
func PathMatches(path, marker string) bool {
	return strings.Contains(path, marker)
}
