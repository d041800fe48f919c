package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kjannette/botdash-backend/internal/duration"
	"github.com/kjannette/botdash-backend/internal/httputil"
	"github.com/kjannette/botdash-backend/internal/logging"
	"github.com/kjannette/botdash-backend/internal/models"
)

var log = logging.For("external")

var ErrVisionNotConfigured = errors.New("vision extractor not configured")

// VisionClient sends a screenshot to the AI vision service and returns the
// extracted bot records. The service is opaque: image in, records out.
type VisionClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      httputil.Policy

	cache *cache.Cache
}

type VisionOptions struct {
	CacheTTL time.Duration
	Timeout  time.Duration
}

func NewVisionClient(baseURL, apiKey string, opts VisionOptions) *VisionClient {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	return &VisionClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		cache:      cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		retry: httputil.Policy{
			Upstream:   "vision",
			Attempts:   3,
			Backoff:    3 * time.Second,
			MaxBackoff: 15 * time.Second,
		},
	}
}

// Extract returns the screenshot records found in image. Re-submitting the
// same image within the cache TTL does not call the service again.
func (v *VisionClient) Extract(ctx context.Context, image []byte, contentType string) ([]models.ScreenshotRecord, error) {
	if v.baseURL == "" {
		return nil, ErrVisionNotConfigured
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	sum := sha256.Sum256(image)
	key := hex.EncodeToString(sum[:])

	if cached, ok := v.cache.Get(key); ok {
		log.Debugf("vision cache hit %s", key[:12])
		return append([]models.ScreenshotRecord(nil), cached.([]models.ScreenshotRecord)...), nil
	}

	body, _ := json.Marshal(map[string]string{
		"image":       base64.StdEncoding.EncodeToString(image),
		"contentType": contentType,
	})

	var data struct {
		Screenshots []models.ScreenshotRecord `json:"screenshots"`
	}
	err := v.retry.JSON(ctx, v.httpClient, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if v.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+v.apiKey)
		}
		return req, nil
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("vision request: %w", err)
	}

	for i := range data.Screenshots {
		data.Screenshots[i].Runtime = duration.Normalize(data.Screenshots[i].Runtime)
	}
	v.cache.Set(key, data.Screenshots, cache.DefaultExpiration)

	log.Infof("vision extracted %d records", len(data.Screenshots))
	return append([]models.ScreenshotRecord(nil), data.Screenshots...), nil
}
