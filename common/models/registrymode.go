package models

import (
	"strings"
)

type RegistryKind int

const (
	REGISTRY_LOCAL RegistryKind = iota
	REGISTRY_GENERIC
	REGISTRY_MANAGED
)

func (k RegistryKind) String() string {
	switch k {
	case REGISTRY_LOCAL:
		return "local"
	case REGISTRY_GENERIC:
		return "generic"
	case REGISTRY_MANAGED:
		return "managed"
	default:
		return "invalid"
	}
}

const managedRegistryMarker = "amazonaws.com"

/**
RegistryMode is the resolved form of the "registry" setting.
- anything mentioning localhost (or "local", or nothing at all) means the image never leaves this machine and is
loaded straight into the local cluster
- an ECR hostname means credentials come from a token exchange
- anything else is a generic registry, optionally with a credentials file
*/
type RegistryMode struct {
	Kind   RegistryKind
	Raw    string
	Host   string //registry host with any scheme stripped, empty for local
	Region string //managed only, may be empty if it can't be worked out from the host
}

func ParseRegistryMode(raw string) RegistryMode {
	trimmed := strings.TrimSpace(raw)
	lowered := strings.ToLower(trimmed)

	if lowered == "" || lowered == "local" || strings.Contains(lowered, "localhost") {
		return RegistryMode{Kind: REGISTRY_LOCAL, Raw: trimmed}
	}

	host := StripScheme(trimmed)
	if strings.Contains(lowered, managedRegistryMarker) {
		return RegistryMode{
			Kind:   REGISTRY_MANAGED,
			Raw:    trimmed,
			Host:   host,
			Region: regionFromEcrHost(host),
		}
	}
	return RegistryMode{Kind: REGISTRY_GENERIC, Raw: trimmed, Host: host}
}

// StripScheme removes a leading http(s):// and any trailing slash.
func StripScheme(registry string) string {
	out := strings.TrimPrefix(registry, "https://")
	out = strings.TrimPrefix(out, "http://")
	return strings.TrimRight(out, "/")
}

/**
ECR hosts look like {account}.dkr.ecr.{region}.amazonaws.com
*/
func regionFromEcrHost(host string) string {
	hostOnly := strings.SplitN(host, "/", 2)[0]
	parts := strings.Split(hostOnly, ".")
	if len(parts) >= 6 && parts[1] == "dkr" && parts[2] == "ecr" {
		return parts[3]
	}
	return ""
}

// Qualify builds the full image reference for this registry.
func (m RegistryMode) Qualify(repo string, tag string) string {
	if m.Kind == REGISTRY_LOCAL || m.Host == "" {
		return repo + ":" + tag
	}
	return m.Host + "/" + repo + ":" + tag
}
