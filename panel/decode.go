package panel

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
)


// endpoints in this format carry a base64 json object instead of a `#label` fragment
const structuredSchemePrefix = "vmess://"

// the first present field is the label
var structuredLabelFields = []string{
	"ps",
	"remarks",
	"remark",
	"name",
	"tag",
	"add",
}


// returns a human readable label for an endpoint url
// the result is only for display. Cache keys, pings and switches always use the raw url.
// This never fails: any input that cannot be decoded is returned unchanged.
func DecodeUrl(raw string) string {
	if _, fragment, ok := strings.Cut(raw, "#"); ok {
		label, err := url.PathUnescape(fragment)
		if err != nil {
			return fragment
		}
		return label
	}

	if strings.HasPrefix(raw, structuredSchemePrefix) {
		if label, ok := decodeStructuredLabel(strings.TrimPrefix(raw, structuredSchemePrefix)); ok {
			return label
		}
		return raw
	}

	return raw
}

func DecodeUrls(rawUrls []string) map[string]string {
	labels := map[string]string{}
	for _, rawUrl := range rawUrls {
		labels[rawUrl] = DecodeUrl(rawUrl)
	}
	return labels
}


func decodeStructuredLabel(payload string) (string, bool) {
	b, err := decodeBase64(removeWhitespace(payload))
	if err != nil {
		return "", false
	}

	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return "", false
	}

	for _, field := range structuredLabelFields {
		if v, ok := fields[field].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func decodeBase64(s string) ([]byte, error) {
	// subscriptions in the wild mix padding and alphabets
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func removeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i += 1 {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
