package monitor

import (
	"context"
	"strings"

	"github.com/banshee-data/splatstream/internal/httputil"
)

// FetchCacheStatus reads /api/cache/stats from a running monitor at baseURL.
func FetchCacheStatus(ctx context.Context, c httputil.HTTPClient, baseURL string) (CacheStatus, error) {
	var st CacheStatus
	err := httputil.FetchJSON(ctx, c, strings.TrimSuffix(baseURL, "/")+"/api/cache/stats", &st)
	return st, err
}
