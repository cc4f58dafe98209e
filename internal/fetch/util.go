package fetch

import (
	"context"
	"io"
	"net/url"

	"github.com/retrack-dev/engine/internal/netguard"
	"github.com/retrack-dev/engine/internal/retrackerr"
)

func (p *Pipeline) guardURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return retrackerr.Wrap(retrackerr.KindValidation, err, "parse URL")
	}
	public, err := netguard.IsPublic(ctx, u.Hostname())
	if err != nil {
		return retrackerr.Wrap(retrackerr.KindValidation, err, "resolve URL host")
	}
	if !public {
		return retrackerr.Newf(retrackerr.KindValidation, "URL %q does not resolve to a public address", rawURL)
	}
	return nil
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
