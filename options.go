package rscache

import "log"

// CacheOption configures a Cache at open time.
type CacheOption func(c *Cache) error

// WithLogger overrides the Logger a Cache instance reports boundary-tracing
// diagnostics to, instead of the shared package-level default.
func WithLogger(l *log.Logger) CacheOption {
	return func(c *Cache) error {
		c.logger = l
		return nil
	}
}

// ReadOnly opens the Cache in a mode where Write and WriteMember fail with
// ErrReadOnly, while Read, ReadMember and CreateChecksumTable (which never
// touch the store's writers) keep working normally. Useful for tooling that
// inspects a cache without risking a torn write.
func ReadOnly() CacheOption {
	return func(c *Cache) error {
		c.readOnly = true
		return nil
	}
}
