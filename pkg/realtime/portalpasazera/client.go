package portalpasazera

import (
	"net/http"
	"time"
)

const DefaultBaseURL = "https://mapa.portalpasazera.pl"

// Headers are attached to every request made to the map service, which
// rejects requests that don't look like they came from the map page
type Headers struct {
	Origin    string `yaml:"origin"`
	Referer   string `yaml:"referer"`
	UserAgent string `yaml:"user_agent"`
	Cookie    string `yaml:"cookie"`
}

var DefaultHeaders = Headers{
	Origin:    DefaultBaseURL,
	Referer:   DefaultBaseURL + "/",
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:140.0) Gecko/20100101 Firefox/140.0",
}

func (h Headers) Apply(header http.Header) {
	header.Set("Accept", "*/*")

	if h.UserAgent != "" {
		header.Set("User-Agent", h.UserAgent)
	}
	if h.Origin != "" {
		header.Set("Origin", h.Origin)
	}
	if h.Referer != "" {
		header.Set("Referer", h.Referer)
	}
	if h.Cookie != "" {
		header.Set("Cookie", h.Cookie)
	}
}

// NewHTTPClient returns a client with an overall request timeout
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}
