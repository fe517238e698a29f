// Package downloader provides a default Downloader (stage.Downloader)
// implementation: a conditional-GET fetch over net/http that only
// transfers when the remote has changed, judged by the server's
// Last-Modified header; ETag is not consulted.
package downloader

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/not-pflarr/Pavilion/internal/perrors"
)

// HTTP is the default Downloader, delegating conditional-GET logic to
// standard net/http validators rather than the core reimplementing caching
// semantics.
type HTTP struct {
	Client *http.Client
}

// New returns an HTTP downloader with a sane default client timeout.
func New() *HTTP {
	return &HTTP{Client: &http.Client{Timeout: 10 * time.Minute}}
}

func (d *HTTP) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

// Update fetches url into dest if dest is missing or stale relative to the
// remote's validators; it is a no-op (success) if a HEAD shows the local
// copy is current.
func (d *HTTP) Update(ctx context.Context, url, dest string) error {
	headers, headErr := d.Head(ctx, url)
	if headErr == nil {
		if info, statErr := os.Stat(dest); statErr == nil {
			if lm, ok := headers["Last-Modified"]; ok {
				if remote, err := http.ParseTime(lm); err == nil && !remote.After(info.ModTime()) {
					return nil
				}
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return perrors.Wrapf(perrors.SrcStageFailed, err, "build request for %q", url)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return perrors.Wrapf(perrors.SrcStageFailed, err, "fetch %q", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return perrors.Errorf(perrors.SrcStageFailed, "fetch %q: unexpected status %s", url, resp.Status)
	}

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return perrors.Wrapf(perrors.SrcStageFailed, err, "create %q", tmp)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return perrors.Wrapf(perrors.SrcStageFailed, err, "write %q", tmp)
	}
	out.Close()
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return perrors.Wrapf(perrors.SrcStageFailed, err, "publish %q", dest)
	}
	return nil
}

// Head returns the response headers url's server reports, for callers that
// want to inspect validators without transferring the body.
func (d *HTTP) Head(ctx context.Context, url string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, perrors.Wrapf(perrors.SrcStageFailed, err, "build HEAD request for %q", url)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return nil, perrors.Wrapf(perrors.SrcStageFailed, err, "HEAD %q", url)
	}
	defer resp.Body.Close()

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return headers, nil
}
