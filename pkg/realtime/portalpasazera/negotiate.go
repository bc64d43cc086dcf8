package portalpasazera

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrNegotiation = errors.New("session negotiation failed")

// Session holds the credentials returned by both negotiation steps
type Session struct {
	URL             string
	AccessToken     string
	ConnectionID    string
	ConnectionToken string
}

// StreamURL is the websocket endpoint including the connection credentials
func (s *Session) StreamURL() string {
	streamURL := s.URL
	if strings.HasPrefix(streamURL, "https://") {
		streamURL = "wss://" + strings.TrimPrefix(streamURL, "https://")
	} else if strings.HasPrefix(streamURL, "http://") {
		streamURL = "ws://" + strings.TrimPrefix(streamURL, "http://")
	}

	return streamURL + "&id=" + url.QueryEscape(s.ConnectionToken) + "&access_token=" + url.QueryEscape(s.AccessToken)
}

type Negotiator interface {
	Negotiate(ctx context.Context) (*Session, error)
}

// HTTPNegotiator performs the hub negotiation followed by the negotiation
// against the service endpoint the hub redirects to
type HTTPNegotiator struct {
	BaseURL string
	HubPath string
	Headers Headers
	Client  *http.Client
}

type hubNegotiateResponse struct {
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`
}

type serviceNegotiateResponse struct {
	ConnectionID    string `json:"connectionId"`
	ConnectionToken string `json:"connectionToken"`
}

func (n *HTTPNegotiator) Negotiate(ctx context.Context) (*Session, error) {
	hubURL := fmt.Sprintf("%s/%s/negotiate?negotiateVersion=1", strings.TrimSuffix(n.BaseURL, "/"), strings.Trim(n.HubPath, "/"))

	var hubResponse hubNegotiateResponse
	if err := n.post(ctx, hubURL, "", &hubResponse); err != nil {
		return nil, fmt.Errorf("%w: hub: %w", ErrNegotiation, err)
	}
	if hubResponse.URL == "" || hubResponse.AccessToken == "" {
		return nil, fmt.Errorf("%w: hub response missing url or access token", ErrNegotiation)
	}

	serviceURL := strings.Replace(hubResponse.URL, "/client/?", "/client/negotiate?", 1)

	var serviceResponse serviceNegotiateResponse
	if err := n.post(ctx, serviceURL, hubResponse.AccessToken, &serviceResponse); err != nil {
		return nil, fmt.Errorf("%w: service: %w", ErrNegotiation, err)
	}
	if serviceResponse.ConnectionToken == "" {
		return nil, fmt.Errorf("%w: service response missing connection token", ErrNegotiation)
	}

	log.Debug().Str("connectionid", serviceResponse.ConnectionID).Msg("Negotiated stream session")

	return &Session{
		URL:             hubResponse.URL,
		AccessToken:     hubResponse.AccessToken,
		ConnectionID:    serviceResponse.ConnectionID,
		ConnectionToken: serviceResponse.ConnectionToken,
	}, nil
}

func (n *HTTPNegotiator) post(ctx context.Context, requestURL string, bearer string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	n.Headers.Apply(req.Header)
	req.Header.Set("Content-Type", "application/json")

	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.Unmarshal(body, response)
}
