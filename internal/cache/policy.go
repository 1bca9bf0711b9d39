package cache

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/report"
)

// DefaultMaxEntrySize is the largest body stored when no limit is configured.
const DefaultMaxEntrySize = 10 * 1024 * 1024

// DefaultContentTypes lists the cacheable media types. Entries ending in "/"
// match a whole top-level type.
var DefaultContentTypes = []string{
	"text/html",
	"text/css",
	"application/javascript",
	"text/javascript",
	"image/",
	"font/",
	"application/json",
}

// Policy is the cacheability predicate applied to every write.
type Policy struct {
	MaxEntrySize int64
	ContentTypes []string
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxEntrySize: DefaultMaxEntrySize,
		ContentTypes: DefaultContentTypes,
	}
}

// Check returns a CacheWriteRejected error when entry must not be stored
// under key.
func (p Policy) Check(key Key, entry *Entry) error {
	if key.Method != http.MethodGet {
		return report.CacheWriteRejected(key.String(), fmt.Sprintf("method %s is not cacheable", key.Method))
	}
	if entry == nil {
		return report.CacheWriteRejected(key.String(), "empty entry")
	}
	if entry.Status != http.StatusOK {
		return report.CacheWriteRejected(key.String(), fmt.Sprintf("status %d is not cacheable", entry.Status))
	}

	limit := p.MaxEntrySize
	if limit <= 0 {
		limit = DefaultMaxEntrySize
	}
	if int64(len(entry.Body)) > limit {
		return report.CacheWriteRejected(key.String(), fmt.Sprintf("body of %d bytes exceeds limit of %d", len(entry.Body), limit))
	}
	if cl := entry.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > limit {
			return report.CacheWriteRejected(key.String(), fmt.Sprintf("content-length %d exceeds limit of %d", n, limit))
		}
	}

	contentType := entry.Header.Get("Content-Type")
	if !p.allowsType(contentType) {
		return report.CacheWriteRejected(key.String(), fmt.Sprintf("content type %q is not cacheable", contentType))
	}
	return nil
}

func (p Policy) allowsType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}

	types := p.ContentTypes
	if len(types) == 0 {
		types = DefaultContentTypes
	}
	for _, allowed := range types {
		if strings.HasSuffix(allowed, "/") {
			if strings.HasPrefix(mediaType, allowed) {
				return true
			}
			continue
		}
		if mediaType == allowed {
			return true
		}
	}
	return false
}
