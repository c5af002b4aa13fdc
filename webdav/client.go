// Package webdav uploads attachment bytes to a WebDAV storage bucket.
// Transient failures (timeouts, 5xx) are retried with bounded
// exponential backoff; auth and conflict failures surface immediately.
package webdav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"time"
)

// ErrPermanent wraps failures that retrying cannot fix, such as bad
// credentials or an invalid path.
var ErrPermanent = errors.New("permanent webdav failure")

// Client talks to one WebDAV bucket.
type Client struct {
	baseURL    string
	username   string
	password   string
	retryCount int
	httpClient *http.Client

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a WebDAV client. retryCount bounds the attempts per
// request, timeout applies per attempt.
func NewClient(baseURL, username, password string, timeout time.Duration, retryCount int) *Client {
	if retryCount < 1 {
		retryCount = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		retryCount: retryCount,
		httpClient: &http.Client{Timeout: timeout},
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// request sends one WebDAV request with retries on transient failures.
func (c *Client) request(ctx context.Context, method, remotePath string, body []byte, headers map[string]string) (int, error) {
	url := c.baseURL + "/" + strings.TrimLeft(remotePath, "/")

	var lastErr error
	for attempt := 0; attempt < c.retryCount; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s, ...
			if err := c.sleep(ctx, time.Duration(1<<(attempt-1))*time.Second); err != nil {
				return 0, err
			}
		}

		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return 0, fmt.Errorf("failed to build %s request for %s: %w", method, remotePath, err)
		}
		req.SetBasicAuth(c.username, c.password)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			lastErr = err
			log.Printf("WebDAV %s %s failed (attempt %d/%d): %v", method, remotePath, attempt+1, c.retryCount, err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error %d", resp.StatusCode)
			log.Printf("WebDAV %s %s returned %d (attempt %d/%d)", method, remotePath, resp.StatusCode, attempt+1, c.retryCount)
			continue
		}
		return resp.StatusCode, nil
	}
	return 0, fmt.Errorf("webdav %s %s failed after %d attempts: %w", method, remotePath, c.retryCount, lastErr)
}

// EnsureDirectory creates a directory, recursively creating missing
// parents. Already-existing directories are not an error.
func (c *Client) EnsureDirectory(ctx context.Context, remotePath string) error {
	remotePath = strings.Trim(remotePath, "/")
	if remotePath == "" {
		return nil
	}

	status, err := c.request(ctx, "MKCOL", remotePath+"/", nil, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusCreated, http.StatusMethodNotAllowed:
		// 405 means the collection already exists.
		return nil
	case http.StatusConflict:
		// Parent missing; create it and retry once.
		parent := path.Dir(remotePath)
		if parent == "." || parent == "/" {
			return fmt.Errorf("%w: cannot create directory %s", ErrPermanent, remotePath)
		}
		if err := c.EnsureDirectory(ctx, parent); err != nil {
			return err
		}
		status, err = c.request(ctx, "MKCOL", remotePath+"/", nil, nil)
		if err != nil {
			return err
		}
		if status == http.StatusCreated || status == http.StatusMethodNotAllowed {
			return nil
		}
		return fmt.Errorf("%w: mkcol %s returned %d", ErrPermanent, remotePath, status)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: mkcol %s returned %d", ErrPermanent, remotePath, status)
	default:
		return fmt.Errorf("%w: mkcol %s returned %d", ErrPermanent, remotePath, status)
	}
}

// Put uploads bytes to remotePath, lazily creating the parent
// directory. Put is idempotent: re-uploading the same path overwrites.
func (c *Client) Put(ctx context.Context, remotePath string, data []byte) error {
	remotePath = strings.Trim(remotePath, "/")
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := c.EnsureDirectory(ctx, dir); err != nil {
			return err
		}
	}

	headers := map[string]string{
		"Content-Type":   "application/octet-stream",
		"Content-Length": fmt.Sprintf("%d", len(data)),
	}
	status, err := c.request(ctx, "PUT", remotePath, data, headers)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict:
		return fmt.Errorf("%w: put %s returned %d", ErrPermanent, remotePath, status)
	default:
		return fmt.Errorf("%w: put %s returned %d", ErrPermanent, remotePath, status)
	}
}

// Delete removes a remote file. A missing file counts as success.
func (c *Client) Delete(ctx context.Context, remotePath string) error {
	status, err := c.request(ctx, "DELETE", strings.Trim(remotePath, "/"), nil, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("%w: delete %s returned %d", ErrPermanent, remotePath, status)
	}
}

// AttachmentPath builds the storage path for one attachment:
// guild/author/location/timestamp_filename.
func AttachmentPath(guildID, authorID, locationID, filename string, postedAt time.Time) string {
	ts := postedAt.UTC().Format("20060102_150405")
	return fmt.Sprintf("%s/%s/%s/%s_%s", guildID, authorID, locationID, ts, path.Base(filename))
}
