package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/harunnryd/vigil/pkg/errorsx"
	"github.com/harunnryd/vigil/pkg/events"
	"github.com/harunnryd/vigil/pkg/resilience"
)

// maxRemoteFrameBytes caps how much is read from a remote frame source.
const maxRemoteFrameBytes = 16 << 20

// Loader resolves a frame source (inline bytes, local path, or http(s) URL)
// into image bytes.
type Loader struct {
	client *http.Client
	retry  resilience.RetryPolicy
}

func NewLoader(fetchTimeout time.Duration) *Loader {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &Loader{
		client: &http.Client{Timeout: fetchTimeout},
		retry:  resilience.NewRetryPolicy(2, 200*time.Millisecond),
	}
}

// Load returns the frame's bytes. Failures are per-frame: the caller drops
// the frame and continues with the rest of the batch.
func (l *Loader) Load(ctx context.Context, src events.FrameSource) ([]byte, error) {
	if len(src.Payload) > 0 {
		return src.Payload, nil
	}
	path := strings.TrimSpace(src.Path)
	if path == "" {
		return nil, errorsx.Wrap(errors.New("frame has neither payload nor path"), errorsx.ReasonFrameLoad)
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return l.fetch(ctx, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonFrameLoad)
	}
	return data, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := l.retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("fetch %s: %s", url, resp.Status)
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, maxRemoteFrameBytes))
		return err
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonFrameLoad)
	}
	return data, nil
}
