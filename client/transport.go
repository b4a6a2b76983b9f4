package client

import (
	"fmt"
	"net/http"
)

// Transport is an http.RoundTripper that attaches the current access token
// as a bearer header and renews it through the coordinator on a 401.
type Transport struct {
	// Base is the underlying transport. Nil means http.DefaultTransport.
	Base http.RoundTripper

	Coordinator *Coordinator
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip sends the request with the current access token. On a 401 it
// renews once and replays the request. Requests with a body are replayed
// only when GetBody is set, which net/http populates for the common body
// types.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Coordinator == nil {
		return nil, fmt.Errorf("client: transport has no coordinator")
	}

	access, err := t.Coordinator.AccessToken(req.Context())
	if err != nil {
		return nil, err
	}

	resp, err := t.send(req, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	renewed, renewErr := t.Coordinator.Renew(req.Context(), access)
	if renewErr != nil {
		return resp, nil
	}

	resp.Body.Close()

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = body
	}

	return t.send(req, renewed.AccessToken)
}

func (t *Transport) send(req *http.Request, access string) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+access)
	return t.base().RoundTrip(clone)
}
