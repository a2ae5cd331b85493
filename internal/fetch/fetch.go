// Package fetch retrieves score and asset bytes from the practice API or
// from local files.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cbegin/scoresync-go/internal/errs"
)

// Client fetches by URL or local path.
type Client struct {
	HTTP *http.Client
}

func New() *Client {
	return &Client{HTTP: &http.Client{Timeout: 60 * time.Second}}
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// Open returns a stream for src and its size, or -1 when unknown. Failures
// are load errors.
func (c *Client) Open(ctx context.Context, src string) (io.ReadCloser, int64, error) {
	if src == "" {
		return nil, 0, errs.Load(nil, "empty source", "No score source was given.")
	}
	if !isRemote(src) {
		f, err := os.Open(strings.TrimPrefix(src, "file://"))
		if err != nil {
			return nil, 0, errs.Load(err, "open "+src, "The file could not be opened.")
		}
		size := int64(-1)
		if st, err := f.Stat(); err == nil {
			size = st.Size()
		}
		return f, size, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, 0, errs.Load(err, "build request for "+src, "The score address is invalid.")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, 0, errs.Load(err, "get "+src, "The score could not be downloaded.")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, 0, errs.Load(nil, fmt.Sprintf("get %s: status %d", src, resp.StatusCode),
			fmt.Sprintf("The server answered %d while downloading the score.", resp.StatusCode))
	}
	return resp.Body, resp.ContentLength, nil
}

// Get reads src fully.
func (c *Client) Get(ctx context.Context, src string) ([]byte, error) {
	rc, _, err := c.Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errs.Load(err, "read "+src, "The download was interrupted.")
	}
	return data, nil
}

// AssetURL joins the API base with /files/{id}. A nil id means the asset
// does not exist and yields no URL.
func AssetURL(base string, id *int) (string, bool) {
	if id == nil {
		return "", false
	}
	return strings.TrimRight(base, "/") + "/files/" + strconv.Itoa(*id), true
}
