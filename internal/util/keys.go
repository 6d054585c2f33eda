package util

import "net/url"

// DecodeKey percent-decodes an HTTP-derived cache key exactly once.
// A key that is not valid percent-encoding is returned unchanged.
func DecodeKey(raw string) string {
	k, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return k
}
