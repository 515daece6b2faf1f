package models

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

type StoreScheme int

const (
	STORE_SHARED_PATH StoreScheme = iota
	STORE_OBJECT_STORAGE
)

func (s StoreScheme) String() string {
	switch s {
	case STORE_SHARED_PATH:
		return "shared-path"
	case STORE_OBJECT_STORAGE:
		return "object-storage"
	default:
		return "invalid"
	}
}

/**
StoreLocation is the resolved form of the "datastore" setting. It is parsed once when the config is
validated; components switch on Scheme rather than re-inspecting the raw string
*/
type StoreLocation struct {
	Scheme StoreScheme
	Raw    string
	Root   string //shared path only
	Bucket string //object storage only
	Prefix string //object storage only, may be empty
}

func ParseStoreLocation(raw string) (StoreLocation, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return StoreLocation{}, errors.New("no data store location set")
	}

	if strings.HasPrefix(trimmed, "s3://") {
		u, parseErr := url.Parse(trimmed)
		if parseErr != nil {
			return StoreLocation{}, fmt.Errorf("could not parse data store uri %q: %w", trimmed, parseErr)
		}
		if u.Host == "" {
			return StoreLocation{}, fmt.Errorf("data store uri %q has no bucket", trimmed)
		}
		return StoreLocation{
			Scheme: STORE_OBJECT_STORAGE,
			Raw:    trimmed,
			Bucket: u.Host,
			Prefix: strings.Trim(u.Path, "/"),
		}, nil
	}

	if filepath.IsAbs(trimmed) {
		return StoreLocation{
			Scheme: STORE_SHARED_PATH,
			Raw:    trimmed,
			Root:   filepath.Clean(trimmed),
		}, nil
	}

	return StoreLocation{}, fmt.Errorf("data store %q must be an s3:// uri or an absolute path", trimmed)
}

func (l StoreLocation) IsNetwork() bool {
	return l.Scheme == STORE_OBJECT_STORAGE
}

// ObjectKey gives the bucket key for a named object, honouring the optional prefix.
func (l StoreLocation) ObjectKey(name string) string {
	if l.Prefix == "" {
		return name
	}
	return path.Join(l.Prefix, name)
}

func (l StoreLocation) String() string {
	return l.Raw
}
