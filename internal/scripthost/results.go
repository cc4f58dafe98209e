package scripthost

import (
	"context"
	"encoding/base64"
)

// ConfiguratorArgs is the `context` bound for a configurator script (§4.2).
type ConfiguratorArgs struct {
	Tags            []string              `json:"tags"`
	PreviousContent any                   `json:"previousContent,omitempty"`
	Requests        []ConfiguratorRequest `json:"requests"`
}

// ConfiguratorRequest mirrors one outgoing Api request as seen by a
// configurator script.
type ConfiguratorRequest struct {
	URL                       string            `json:"url"`
	Method                    string            `json:"method,omitempty"`
	Headers                   map[string]string `json:"headers,omitempty"`
	MediaType                 string            `json:"mediaType,omitempty"`
	Body                      []byte            `json:"body,omitempty"`
	AcceptStatuses            []int             `json:"acceptStatuses,omitempty"`
	AcceptInvalidCertificates bool              `json:"acceptInvalidCertificates,omitempty"`
}

// ConfiguratorOutcome is the decoded tagged-variant result of a
// configurator script: at most one of HasRequestOverride or
// HasResponse is set, and neither is when the script returns neither
// shape (§4.2: "{request: {...}} ... or {response: {body: bytes}}").
type ConfiguratorOutcome struct {
	HasRequestOverride bool
	RequestHeaders     map[string]string
	RequestBody        []byte

	HasResponse  bool
	ResponseBody []byte
}

// RunConfigurator executes a configurator script and decodes its
// tagged result.
func RunConfigurator(ctx context.Context, source string, args ConfiguratorArgs, limits Limits) (ConfiguratorOutcome, error) {
	raw, err := Execute(ctx, source, args, limits)
	if err != nil {
		return ConfiguratorOutcome{}, err
	}
	if raw == nil {
		return ConfiguratorOutcome{}, nil
	}

	m, ok := asMap(raw)
	if !ok {
		return ConfiguratorOutcome{}, nil
	}

	if resp, ok := asMap(m["response"]); ok {
		body, _ := decodeBytesField(resp["body"])
		return ConfiguratorOutcome{HasResponse: true, ResponseBody: body}, nil
	}
	if req, ok := asMap(m["request"]); ok {
		out := ConfiguratorOutcome{HasRequestOverride: true}
		if headers, ok := asMap(req["headers"]); ok {
			out.RequestHeaders = map[string]string{}
			for k, v := range headers {
				if s, ok := v.(string); ok {
					out.RequestHeaders[k] = s
				}
			}
		}
		body, ok := decodeBytesField(req["body"])
		if ok {
			out.RequestBody = body
		}
		return out, nil
	}
	return ConfiguratorOutcome{}, nil
}

// ExtractorArgs is the `context` bound for an extractor script (§4.2).
type ExtractorArgs struct {
	Tags            []string           `json:"tags"`
	PreviousContent any                `json:"previousContent,omitempty"`
	Responses       []ExtractorResponse `json:"responses,omitempty"`
	Params          any                `json:"params,omitempty"`
}

// ExtractorResponse is one HTTP response surfaced to an extractor script.
type ExtractorResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// RunExtractor executes an extractor script and returns the decoded
// body (nil, false if the script returned undefined/null/no body field).
func RunExtractor(ctx context.Context, source string, args ExtractorArgs, limits Limits) ([]byte, bool, error) {
	raw, err := Execute(ctx, source, args, limits)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	m, ok := asMap(raw)
	if !ok {
		return nil, false, nil
	}
	body, ok := decodeBytesField(m["body"])
	return body, ok, nil
}

// FormatterArgs is the `context` bound for a formatter script (§4.2).
type FormatterArgs struct {
	Action          string `json:"action"`
	NewContent      any    `json:"newContent"`
	PreviousContent any    `json:"previousContent,omitempty"`
}

// RunFormatter executes a formatter script and returns the decoded
// content (empty, false if the script omitted the content field,
// meaning "skip the action").
func RunFormatter(ctx context.Context, source string, args FormatterArgs, limits Limits) (string, bool, error) {
	raw, err := Execute(ctx, source, args, limits)
	if err != nil {
		return "", false, err
	}
	if raw == nil {
		return "", false, nil
	}
	m, ok := asMap(raw)
	if !ok {
		return "", false, nil
	}
	content, present := m["content"]
	if !present || content == nil {
		return "", false, nil
	}
	if s, ok := content.(string); ok {
		return s, true, nil
	}
	return "", true, nil
}

// decodeBytesField accepts either a []byte, a base64 string (as a
// script author would produce for a "bytes" field in an expr
// expression, which has no native byte-slice literal), or a []any of
// small ints, and reports whether a usable value was present.
func decodeBytesField(v any) ([]byte, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case []byte:
		return t, true
	case string:
		decoded, err := base64.StdEncoding.DecodeString(t)
		if err != nil {
			return []byte(t), true
		}
		return decoded, true
	case []any:
		out := make([]byte, 0, len(t))
		for _, e := range t {
			if f, ok := e.(float64); ok {
				out = append(out, byte(int64(f)))
			}
		}
		return out, true
	default:
		return nil, false
	}
}
