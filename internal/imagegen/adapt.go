package imagegen

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Accessor names probed, in order, when a provider output or handle exposes
// its result location as a field rather than a plain value.
var urlAccessorKeys = []string{"url", "uri", "path", "href", "link", "source", "file"}

// AdaptOutput converts the provider's raw output plus the handle's url map
// into the closed Output union. It returns nil for unparseable payloads; the
// resolver treats nil as "no result".
func AdaptOutput(raw json.RawMessage, handleURLs map[string]string) Output {
	out := adaptValue(raw)
	handleURL := urlFromMap(handleURLs)
	if handleURL == "" {
		return out
	}
	switch v := out.(type) {
	case *BytesOutput:
		if v.URL == "" {
			v.URL = handleURL
		}
		return v
	case *StreamOutput:
		if v.URL == "" {
			v.URL = handleURL
		}
		return v
	case nil:
		return &URLOutput{Value: handleURL}
	default:
		return out
	}
}

func adaptValue(raw json.RawMessage) Output {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return adaptString(s)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		stream := &StreamOutput{}
		for _, item := range items {
			if adapted := adaptValue(item); adapted != nil {
				stream.Items = append(stream.Items, adapted)
			}
		}
		return stream
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range urlAccessorKeys {
			rawVal, ok := obj[key]
			if !ok {
				continue
			}
			var val string
			if err := json.Unmarshal(rawVal, &val); err != nil {
				continue
			}
			if isHTTPURL(val) {
				return &URLOutput{Value: val}
			}
		}
	}

	return nil
}

func adaptString(s string) Output {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil
	case strings.HasPrefix(s, "data:"):
		data, ok := DecodeDataURI(s)
		if !ok {
			return nil
		}
		return &BytesOutput{Data: data}
	case isHTTPURL(s):
		return &URLOutput{Value: s}
	}
	return nil
}

func urlFromMap(urls map[string]string) string {
	for _, key := range urlAccessorKeys {
		if val, ok := urls[key]; ok && isHTTPURL(val) {
			return val
		}
	}
	return ""
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// DecodeDataURI decodes "data:<mime>;base64,<payload>" strings.
func DecodeDataURI(s string) ([]byte, bool) {
	idx := strings.IndexByte(s, ',')
	if idx < 0 {
		return nil, false
	}
	payload := s[idx+1:]
	if data, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return data, true
	}
	if data, err := base64.RawStdEncoding.DecodeString(payload); err == nil {
		return data, true
	}
	return nil, false
}
