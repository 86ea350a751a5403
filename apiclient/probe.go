package apiclient

import (
	"context"
	"net/http"

	apperrors "github.com/medisched/medisched-client/internal/errors"
)

// ProbeHealth checks whether a feature backend is reachable. A 401 or 404
// on a feature endpoint means the feature is not deployed (or the server
// is misconfigured), which is reported as ErrServiceUnavailable so callers
// can hide the feature instead of surfacing an error.
//
// The probe never retries and never triggers 401 session recovery: feature
// endpoints respond 401 when the feature backend is absent, which says
// nothing about the user's session.
func (c *Client) ProbeHealth(ctx context.Context, path string) error {
	url := c.resolveURL(path)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperrors.Wrapf(err, "[Client.ProbeHealth] build request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrNetworkFailure, "[Client.ProbeHealth] %s: %v", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusNotFound:
		return apperrors.Wrapf(apperrors.ErrServiceUnavailable, "[Client.ProbeHealth] %s returned %d", url, resp.StatusCode)
	default:
		return &StatusError{StatusCode: resp.StatusCode}
	}
}
