package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/scripthost"
	"github.com/retrack-dev/engine/internal/types"
)

// apiResponse is one collected HTTP response, prior to media-type
// post-processing.
type apiResponse struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// fetchAPI resolves an Api target (§4.3 step "Api").
func (p *Pipeline) fetchAPI(ctx context.Context, tracker *types.Tracker, previousContent any) (json.RawMessage, error) {
	target := tracker.Target.Api
	if target == nil {
		return nil, retrackerr.New(retrackerr.KindValidation, "api target missing api config")
	}

	requests, shortCircuit, err := p.runConfigurator(ctx, tracker, target, previousContent)
	if err != nil {
		return nil, err
	}
	if shortCircuit != nil {
		return p.runExtractorOrPassthrough(ctx, tracker, target, previousContent, []apiResponse{*shortCircuit})
	}

	responses := make([]apiResponse, 0, len(requests))
	for _, req := range requests {
		resp, err := p.executeRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return p.runExtractorOrPassthrough(ctx, tracker, target, previousContent, responses)
}

// runConfigurator builds the outgoing request set, optionally
// overridden or short-circuited by the configurator script (§4.3.a).
func (p *Pipeline) runConfigurator(ctx context.Context, tracker *types.Tracker, target *types.ApiTarget, previousContent any) ([]types.ApiRequest, *apiResponse, error) {
	if target.ConfiguratorSource == "" {
		return target.Requests, nil, nil
	}

	source, err := p.resolveSource(ctx, target.ConfiguratorSource, target.ConfiguratorSourceIsURL)
	if err != nil {
		return nil, nil, err
	}

	descriptors := make([]scripthost.ConfiguratorRequest, 0, len(target.Requests))
	for _, r := range target.Requests {
		descriptors = append(descriptors, scripthost.ConfiguratorRequest{
			URL:                       r.URL,
			Method:                    r.Method,
			Headers:                   r.Headers,
			MediaType:                 r.MediaType,
			Body:                      r.Body,
			AcceptStatuses:            r.AcceptStatuses,
			AcceptInvalidCertificates: r.AcceptInvalidCertificates,
		})
	}

	outcome, err := scripthost.RunConfigurator(ctx, source, scripthost.ConfiguratorArgs{
		Tags:            tracker.Tags,
		PreviousContent: previousContent,
		Requests:        descriptors,
	}, p.ScriptLimits)
	if err != nil {
		return nil, nil, err
	}

	if outcome.HasResponse {
		return nil, &apiResponse{Status: 0, Headers: map[string]string{}, Body: outcome.ResponseBody}, nil
	}
	if outcome.HasRequestOverride && len(target.Requests) > 0 {
		overridden := target.Requests[0]
		if outcome.RequestHeaders != nil {
			overridden.Headers = outcome.RequestHeaders
		}
		if outcome.RequestBody != nil {
			overridden.Body = outcome.RequestBody
		}
		out := append([]types.ApiRequest{overridden}, target.Requests[1:]...)
		return out, nil, nil
	}
	return target.Requests, nil, nil
}

// executeRequest performs one Api request, applying the public-URL
// restriction when enabled, per-tracker timeout (via ctx, already
// scoped by the caller) and acceptance rules (§4.3.b).
func (p *Pipeline) executeRequest(ctx context.Context, r types.ApiRequest) (apiResponse, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	if p.RestrictToPublicURLs {
		if err := p.guardURL(ctx, r.URL); err != nil {
			return apiResponse{}, err
		}
	}

	var bodyReader *bytes.Reader
	if len(r.Body) > 0 {
		bodyReader = bytes.NewReader(r.Body)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, bodyReader)
	if err != nil {
		return apiResponse{}, retrackerr.Wrap(retrackerr.KindValidation, err, "build api request")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return apiResponse{}, retrackerr.Wrap(retrackerr.KindTargetServer, err, "api request transport failure")
	}
	defer resp.Body.Close()

	body, err := readAll(resp.Body)
	if err != nil {
		return apiResponse{}, retrackerr.Wrap(retrackerr.KindTargetServer, err, "read api response body")
	}

	accepted := false
	for _, s := range r.AcceptedStatuses() {
		if resp.StatusCode == s {
			accepted = true
			break
		}
	}
	if !accepted {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return apiResponse{}, retrackerr.Newf(retrackerr.KindTargetClient, "api request to %s returned unaccepted status %d", r.URL, resp.StatusCode)
		}
		return apiResponse{}, retrackerr.Newf(retrackerr.KindTargetServer, "api request to %s returned unaccepted status %d", r.URL, resp.StatusCode)
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return apiResponse{Status: resp.StatusCode, Headers: headers, Body: body}, nil
}

// runExtractorOrPassthrough applies media-type post-processing, then
// either runs the configured extractor script or falls back to the
// single-response/multi-response passthrough rules of §4.3.d.
func (p *Pipeline) runExtractorOrPassthrough(ctx context.Context, tracker *types.Tracker, target *types.ApiTarget, previousContent any, responses []apiResponse) (json.RawMessage, error) {
	processed := make([]any, 0, len(responses))
	scriptResponses := make([]scripthost.ExtractorResponse, 0, len(responses))
	for i, r := range responses {
		var mediaType string
		if i < len(target.Requests) {
			mediaType = target.Requests[i].MediaType
		}
		value := postProcessMediaType(mediaType, r.Body)
		processed = append(processed, value)
		scriptResponses = append(scriptResponses, scripthost.ExtractorResponse{Status: r.Status, Headers: r.Headers, Body: r.Body})
	}

	if target.ExtractorSource != "" {
		source, err := p.resolveSource(ctx, target.ExtractorSource, target.ExtractorSourceIsURL)
		if err != nil {
			return nil, err
		}
		body, ok, err := scripthost.RunExtractor(ctx, source, scripthost.ExtractorArgs{
			Tags:            tracker.Tags,
			PreviousContent: previousContent,
			Responses:       scriptResponses,
		}, p.ScriptLimits)
		if err != nil {
			return nil, err
		}
		if ok {
			return json.RawMessage(body), nil
		}
		return nil, nil
	}

	if len(responses) == 1 {
		var asJSON json.RawMessage
		if json.Valid(responses[0].Body) {
			asJSON = json.RawMessage(responses[0].Body)
		} else {
			encoded, err := json.Marshal(processed[0])
			if err != nil {
				return nil, retrackerr.Wrap(retrackerr.KindTransient, err, "encode single response value")
			}
			asJSON = encoded
		}
		return asJSON, nil
	}

	encoded, err := json.Marshal(processed)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.KindTransient, err, "encode response array")
	}
	return encoded, nil
}
