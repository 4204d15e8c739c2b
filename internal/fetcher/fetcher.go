// Package fetcher downloads remote input datasets over HTTP(S) or FTP.
package fetcher

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads a URL to a local file.
type Fetcher interface {
	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// IsRemote reports whether src is an http, https or ftp URL rather than a local path.
func IsRemote(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return u.Host != ""
	}
	return false
}

// Remote picks a fetcher by URL scheme.
type Remote struct {
	HTTP Fetcher
	FTP  Fetcher
}

// NewRemote returns a Remote with default HTTP and FTP fetchers.
func NewRemote() *Remote {
	return &Remote{
		HTTP: NewHTTPFetcher(HTTPOptions{}),
		FTP:  NewFTPFetcher(FTPOptions{}),
	}
}

// Fetch downloads src into dir, keeping the file name of the URL path so the
// dataset format can still be told from its extension. Returns the local path.
func (r *Remote) Fetch(ctx context.Context, src, dir string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: parse url")
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", eris.Errorf("fetcher: no file name in %s", src)
	}

	f := r.HTTP
	if strings.EqualFold(u.Scheme, "ftp") {
		f = r.FTP
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "fetcher: create dir %s", dir)
	}
	dst := filepath.Join(dir, name)
	n, err := f.DownloadToFile(ctx, src, dst)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: download %s", u.Redacted())
	}

	zap.L().Info("fetcher: downloaded input",
		zap.String("url", u.Redacted()),
		zap.String("path", dst),
		zap.Int64("bytes", n),
	)
	return dst, nil
}
