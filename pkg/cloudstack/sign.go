package cloudstack

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"maps"
	"sort"
	"strings"
)

// expiresFormat renders yyyy-MM-dd'T'HH:mm:ssZ with an RFC 822 numeric
// zone, matching what the server parses for signature version 3.
const expiresFormat = "2006-01-02T15:04:05-0700"

// signParams returns a copy of params with the API key, the optional
// expiry window and the request signature attached.
//
// The signature is the base64 HMAC-SHA1 of the parameters sorted
// case-insensitively by key, each value percent-encoded, joined as
// key=value pairs with '&' and lowercased as a whole.
func (c *Client) signParams(params map[string]string) (map[string]string, error) {
	if c.cfg.Key == "" || c.cfg.Secret == "" {
		return nil, &SigningError{Reason: "missing API key or secret"}
	}

	signed := maps.Clone(params)
	signed["apiKey"] = c.cfg.Key
	if c.cfg.Expiration >= 0 {
		signed["signatureVersion"] = "3"
		signed["expires"] = c.now().UTC().Add(c.cfg.Expiration).Format(expiresFormat)
	}

	keys := make([]string, 0, len(signed))
	for k := range signed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if a == b {
			return keys[i] < keys[j]
		}
		return a < b
	})

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(csEncode(signed[k]))
	}

	mac := hmac.New(sha1.New, []byte(c.cfg.Secret))
	mac.Write([]byte(strings.ToLower(b.String())))
	signed["signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return signed, nil
}
