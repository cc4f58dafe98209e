package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/types"
)

// scraperRequest mirrors the external scraper service's contract (§6):
// POST {scraper_base}/api/web_page/execute.
type scraperRequest struct {
	Extractor         string      `json:"extractor"`
	ExtractorParams   any         `json:"extractorParams,omitempty"`
	Tags              []string    `json:"tags"`
	UserAgent         string      `json:"userAgent,omitempty"`
	IgnoreHTTPSErrors bool        `json:"ignoreHTTPSErrors"`
	TimeoutMillis     int64       `json:"timeout,omitempty"`
	PreviousContent   any         `json:"previousContent,omitempty"`
}

type scraperErrorBody struct {
	Message string `json:"message"`
}

// fetchPage resolves a Page target by delegating extraction to the
// external scraper service (§4.3).
func (p *Pipeline) fetchPage(ctx context.Context, tracker *types.Tracker, previousContent any) (json.RawMessage, error) {
	target := tracker.Target.Page
	if target == nil {
		return nil, retrackerr.New(retrackerr.KindValidation, "page target missing page config")
	}

	extractor, err := p.resolveSource(ctx, target.ExtractorSource, target.ExtractorSourceIsURL)
	if err != nil {
		return nil, err
	}

	var timeoutMillis int64
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := deadline.Sub(time.Now()); remaining > 0 {
			timeoutMillis = remaining.Milliseconds()
		}
	}

	reqBody := scraperRequest{
		Extractor:         extractor,
		Tags:              tracker.Tags,
		UserAgent:         target.UserAgent,
		IgnoreHTTPSErrors: target.AcceptInvalidCertificates,
		TimeoutMillis:     timeoutMillis,
		PreviousContent:   previousContent,
	}
	if len(target.ExtractorParams) > 0 {
		reqBody.ExtractorParams = json.RawMessage(target.ExtractorParams)
	}

	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.KindTransient, err, "marshal scraper request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.ScraperBaseURL+"/api/web_page/execute", bytes.NewReader(encoded))
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.KindTransient, err, "build scraper request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.KindScraperServer, err, "call scraper service")
	}
	defer resp.Body.Close()

	body, err := readAll(resp.Body)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.KindScraperServer, err, "read scraper response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return json.RawMessage(body), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var errBody scraperErrorBody
		_ = json.Unmarshal(body, &errBody)
		if errBody.Message == "" {
			errBody.Message = string(body)
		}
		return nil, retrackerr.Newf(retrackerr.KindScraperClient, "scraper client error: %s", errBody.Message)
	default:
		return nil, retrackerr.Newf(retrackerr.KindScraperServer, "scraper service returned status %d", resp.StatusCode)
	}
}
