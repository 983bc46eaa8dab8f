// Package httpsource is the default pkgstream.Transport: a resumable,
// ranged HTTP(S) GET, adapted from the whole-file resumable downloader this
// project's teacher uses for IPSW mirrors down to the single-connection,
// byte-exact stream the PKG format requires.
package httpsource

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"golang.org/x/net/http/httpproxy"

	"github.com/AuthurNero/pkgj/internal/utils"
)

// Source is a single-connection HTTP transport. Start may be called more
// than once across the lifetime of a Source; it closes any connection left
// open by the previous Start before issuing the new request.
type Source struct {
	client  *http.Client
	headers map[string]string
	body    io.ReadCloser
}

// New builds a Source. proxy overrides the environment-derived proxy when
// non-empty; insecure disables TLS certificate verification (mirrors the
// teacher's --insecure flag, useful against self-signed mirrors).
func New(proxy string, insecure bool, headers map[string]string) *Source {
	return &Source{
		headers: headers,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:             GetProxy(proxy),
				TLSClientConfig:   &tls.Config{InsecureSkipVerify: insecure},
				ForceAttemptHTTP2: true,
			},
		},
	}
}

// GetProxy resolves a proxy function either from an explicit URL or from
// the environment, logging what it picked at debug level.
func GetProxy(proxy string) func(*http.Request) (*url.URL, error) {
	if len(proxy) > 0 {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			log.WithError(err).Error("bad proxy url")
			return http.ProxyFromEnvironment
		}
		log.Debugf("proxy set to: %s", proxyURL)
		return http.ProxyURL(proxyURL)
	}

	conf := httpproxy.FromEnvironment()
	if len(conf.HTTPProxy) > 0 || len(conf.HTTPSProxy) > 0 {
		log.WithFields(log.Fields{
			"http_proxy":  conf.HTTPProxy,
			"https_proxy": conf.HTTPSProxy,
		}).Debug("proxy info from environment")
	}
	return http.ProxyFromEnvironment
}

// Start issues a ranged GET at offset and returns the length of the bytes
// remaining to be served by this connection.
func (s *Source) Start(ctx context.Context, rawURL string, offset int64) (int64, error) {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, errors.Wrap(err, "cannot create http request")
	}
	req.Header.Set("User-Agent", utils.RandomAgent())
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "http request failed")
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return 0, errors.Errorf("server returned status: %s", resp.Status)
	}
	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return 0, errors.New("server does not support byte ranges, cannot resume")
	}

	if resp.ContentLength < 0 {
		resp.Body.Close()
		return 0, errors.New("content length is not set")
	}

	s.body = resp.Body
	return resp.ContentLength, nil
}

// Read implements pkgstream.Transport.
func (s *Source) Read(buf []byte) (int, error) {
	if s.body == nil {
		return 0, errors.New("read before start")
	}
	n, err := s.body.Read(buf)
	if err == io.EOF {
		if n > 0 {
			return n, nil
		}
		return 0, nil
	}
	return n, err
}

// Close implements pkgstream.Transport.
func (s *Source) Close() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}
