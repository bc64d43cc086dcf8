package traindetails

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/realtime/portalpasazera"
)

var ErrTokenUnavailable = errors.New("page token unavailable")

var pidPattern = regexp.MustCompile(`var\s+PID\s*=\s*'([^']*)'`)

// ExtractPID finds the PID assignment in the map page source
func ExtractPID(page string) (string, bool) {
	match := pidPattern.FindStringSubmatch(page)
	if match == nil {
		return "", false
	}

	pid := strings.NewReplacer("\r", "", "\n", "").Replace(match[1])
	if pid == "" {
		return "", false
	}

	return pid, true
}

// PIDProvider scrapes the PID token the detail endpoint requires from the map page
type PIDProvider struct {
	PageURL string
	Headers portalpasazera.Headers
	Client  *http.Client
	Cache   TokenCache

	fetchMutex sync.Mutex
}

func (p *PIDProvider) Token(ctx context.Context) (string, error) {
	if token, ok := p.Cache.Get(ctx); ok {
		return token, nil
	}

	// Only one request scrapes the page at a time
	p.fetchMutex.Lock()
	defer p.fetchMutex.Unlock()

	if token, ok := p.Cache.Get(ctx); ok {
		return token, nil
	}

	token, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}

	p.Cache.Set(ctx, token)
	log.Debug().Str("pid", token).Msg("Fetched map page token")

	return token, nil
}

func (p *PIDProvider) Invalidate(ctx context.Context) {
	p.Cache.Invalidate(ctx)
}

func (p *PIDProvider) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.PageURL, nil)
	if err != nil {
		return "", err
	}
	p.Headers.Apply(req.Header)

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: map page returned %d", ErrTokenUnavailable, resp.StatusCode)
	}

	page, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}

	token, ok := ExtractPID(string(page))
	if !ok {
		return "", fmt.Errorf("%w: no PID in map page", ErrTokenUnavailable)
	}

	return token, nil
}
