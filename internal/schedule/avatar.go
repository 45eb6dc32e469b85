package schedule

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
)

// defaultAvatarURL serves a neutral placeholder portrait.
const defaultAvatarURL = "https://www.gravatar.com/avatar/?d=mp&s=64"

// AvatarService resolves avatar images for resources.
//
// The default image is fetched at most once per process and memoized
// for the session; the cache is never reset. A failed fetch leaves the
// cache empty, and resources without a contact image simply end up
// with no image.
type AvatarService struct {
	url    string
	client *http.Client
	logger *log.Logger

	once   sync.Once
	defimg string
}

// NewAvatarService creates an avatar service. An empty url uses the
// built-in placeholder source. A nil client uses http.DefaultClient.
func NewAvatarService(url string, client *http.Client, logger *log.Logger) *AvatarService {
	if url == "" {
		url = defaultAvatarURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[avatar] ", log.LstdFlags)
	}
	return &AvatarService{url: url, client: client, logger: logger}
}

// DataURL wraps a base64-encoded image into a data URL the board can
// display directly.
func DataURL(base64Image string) string {
	return "data:image/png;base64," + base64Image
}

// DefaultImage returns the memoized default avatar as a data URL,
// fetching it on first use. Returns an empty string when the fetch
// failed; the failure is logged once and not retried.
func (s *AvatarService) DefaultImage(ctx context.Context) string {
	s.once.Do(func() {
		img, err := s.fetch(ctx)
		if err != nil {
			s.logger.Printf("default avatar fetch failed: %v", err)
			return
		}
		s.defimg = img
	})
	return s.defimg
}

func (s *AvatarService) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	return DataURL(base64.StdEncoding.EncodeToString(data)), nil
}
