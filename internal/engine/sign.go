package engine

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// The gateways sign requests and notifications the same way: every
// non-empty parameter except sign/sign_type, ASCII-sorted by key, joined as
// k=v pairs with '&', the merchant secret appended, MD5-hashed.  MD5 is
// dictated by the gateway protocol, not chosen here.

// Sign computes the signature over params with the shared secret.
func Sign(params map[string]string, secret string) string {
	sum := md5.Sum([]byte(canonicalQuery(params) + secret))
	return hex.EncodeToString(sum[:])
}

// VerifySign checks the "sign" field of a notification or callback against
// the signature recomputed from the remaining parameters.  Comparison is
// case-insensitive; gateways differ in hex casing.
func VerifySign(values url.Values, secret string) bool {
	supplied := values.Get("sign")
	if supplied == "" {
		return false
	}
	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}
	return strings.EqualFold(Sign(params, secret), supplied)
}

// canonicalQuery builds the canonical "k=v&k=v" string: empty values and
// the signature fields are dropped, keys are ASCII-sorted.  Values are not
// URL-encoded; the gateways sign raw values.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || k == "sign" || k == "sign_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
