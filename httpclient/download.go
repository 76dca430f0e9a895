package httpclient

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// defaultDownloadName is used when neither the response nor the URL yield a
// usable file name.
const defaultDownloadName = "download"

// DownloadFile sends a GET request and streams the response body into a file
// under dir, creating dir when needed. It returns the path of the written
// file.
//
// When name is empty, the file name is taken from the Content-Disposition
// header, preferring filename* over filename, and then from the last segment
// of the request URL. Characters that are not valid in file names are
// replaced with "_".
//
// Example:
//
//	path, err := client.Request("reports", "{id}", "export").
//	    PathParam("id", id).
//	    DownloadFile(ctx, os.TempDir(), "")
func (r *Request) DownloadFile(ctx context.Context, dir, name string) (string, error) {
	resp, err := r.WithCompletionMode(Streamed).Get(ctx)
	if err != nil {
		return "", err
	}
	body := resp.Response.Body
	if body != nil {
		defer body.Close()
	}

	if name == "" {
		name = downloadName(resp)
	}
	name = sanitizeFileName(name)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	dst := filepath.Join(dir, name)

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	if body != nil {
		if _, err := io.Copy(f, body); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("write download file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write download file: %w", err)
	}
	return dst, nil
}

// downloadName picks the file name from Content-Disposition, then from the
// URL of the first call in the redirect chain.
func downloadName(resp *Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		// ParseMediaType stores a decoded filename* under "filename".
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if fn := strings.Trim(params["filename"], `"`); fn != "" {
				return fn
			}
		}
	}

	call := resp.Call()
	for call != nil && call.RedirectedFrom != nil {
		call = call.RedirectedFrom
	}
	if call == nil || call.URL() == nil {
		return ""
	}
	// URL.Path is already unescaped.
	return path.Base(call.URL().Path)
}

func sanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return '_'
		case strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, name)
	switch strings.Trim(name, ". ") {
	case "", "_":
		return defaultDownloadName
	}
	return name
}
