// Package source talks to the college site: it fetches the students page and
// downloads timetable files into a local cache directory.
package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/noahxzhu/timetable-notify/internal/links"
	"github.com/noahxzhu/timetable-notify/internal/model"
)

// ErrFetch wraps every network or HTTP status failure.
var ErrFetch = errors.New("fetch failed")

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxPageSize     = 5 << 20  // 5MB
	maxDocumentSize = 50 << 20 // 50MB
)

// Document is a downloaded timetable file.
type Document struct {
	Path    string
	Name    string
	Content []byte
}

type Client struct {
	BaseURL     string
	PageURL     string
	DownloadDir string
	httpClient  *http.Client
}

type Options struct {
	BaseURL            string
	PageURL            string
	DownloadDir        string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// NewClient builds a Client. The college site has served broken certificate
// chains before, so verification can be turned off.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{
		BaseURL:     opts.BaseURL,
		PageURL:     opts.PageURL,
		DownloadDir: opts.DownloadDir,
		httpClient:  &http.Client{Timeout: opts.Timeout, Transport: transport},
	}
}

// FetchPage returns the students page decoded to UTF-8.
func (c *Client) FetchPage(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, c.PageURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := charset.NewReader(io.LimitReader(resp.Body, maxPageSize), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", ErrFetch, c.PageURL, err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrFetch, c.PageURL, err)
	}
	return string(data), nil
}

// Links fetches the students page and lists the spreadsheet links on it.
func (c *Client) Links(ctx context.Context) ([]model.Link, error) {
	page, err := c.FetchPage(ctx)
	if err != nil {
		return nil, err
	}
	return links.Discover(page, c.BaseURL)
}

// Download saves link into the download directory. With force unset an
// already downloaded file of the same name is reused.
func (c *Client) Download(ctx context.Context, link model.Link, force bool) (Document, error) {
	if err := os.MkdirAll(c.DownloadDir, 0o755); err != nil {
		return Document{}, fmt.Errorf("create download dir: %w", err)
	}
	name := filepath.Base(link.Filename)
	path := filepath.Join(c.DownloadDir, name)

	if !force {
		if content, err := os.ReadFile(path); err == nil {
			return Document{Path: path, Name: name, Content: content}, nil
		}
	}

	resp, err := c.get(ctx, link.URL)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return Document{}, fmt.Errorf("%w: read %s: %v", ErrFetch, link.URL, err)
	}

	if err := writeFile(c.DownloadDir, path, content); err != nil {
		return Document{}, err
	}
	return Document{Path: path, Name: name, Content: content}, nil
}

// writeFile replaces path through a temp file unique to this call, so
// concurrent downloads of the same file never share a temp path.
func writeFile(dir, path string, content []byte) error {
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp.Name(), err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned status %s", ErrFetch, url, resp.Status)
	}
	return resp, nil
}
