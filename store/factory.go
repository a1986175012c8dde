package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Open builds the Store named by dsn:
//
//	""  | memory://                  in-process only
//	/path/state.json | file://path   JSON file
//	postgres://... | sqlite://path   gorm-backed document row
//	redis://... | rediss://...       redis key
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse state dsn: %w", err)
	}
	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return OpenFileStore(path)
	case "postgres", "postgresql", "sqlite", "sqlite3":
		return OpenGormStore(dsn)
	case "redis", "rediss":
		return OpenRedisStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, scheme)
	}
}

// dsnPath extracts a filesystem path; file://./rel keeps the relative prefix.
func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Path
	if parsed.Host != "" && parsed.Host != "localhost" {
		path = parsed.Host + path
	}
	if path == "" {
		path = parsed.Opaque
	}
	if strings.TrimSpace(path) == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
