// Package httpx implements transport.Transport over HTTP(S): directory
// listings are parsed from HTML link bodies, and ranged GET drives chunked
// fetch. Grounded on backend/http/http.go's readDir/parse/Object.Open.
//
// This is the primary transport exercised by the fetch worker.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/afdcore/afd/internal/transport"
	"golang.org/x/net/html"
)

// Transport is one HTTP(S) session. There is no persistent connection to
// pool - net/http already keeps-alive transparently - so Connect only
// parses and records the base URL; it does not contact the server.
type Transport struct {
	base       *url.URL
	client     *http.Client
	headers    http.Header
	user, pass string
}

// New creates an HTTP(S) transport with the given timeout.
func New(timeout time.Duration) *Transport {
	return &Transport{
		client:  &http.Client{Timeout: timeout},
		headers: make(http.Header),
	}
}

// SetHeader adds a static header sent with every request (e.g. a bucket
// path prefix or API key).
func (t *Transport) SetHeader(key, value string) { t.headers.Set(key, value) }

func (t *Transport) Connect(ctx context.Context, addr, user, password string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("httpx: parse base url %q: %w", addr, err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	t.base, t.user, t.pass = u, user, password
	return nil
}

func (t *Transport) newRequest(ctx context.Context, method, name string) (*http.Request, error) {
	ref, err := url.Parse(name)
	if err != nil {
		return nil, fmt.Errorf("httpx: parse %q: %w", name, err)
	}
	u := t.base.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if t.user != "" {
		req.SetBasicAuth(t.user, t.pass)
	}
	return req, nil
}

func statusError(name string, res *http.Response, err error) error {
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusNotFound {
		return &transport.NotFoundError{Name: name}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("httpx: %s: unexpected status %s", name, res.Status)
	}
	return nil
}

// List reads dir as an HTML index and returns every referenced link as an
// entry, mirroring parse()'s anchor-walk.
func (t *Transport) List(ctx context.Context, dir string) ([]transport.Entry, error) {
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	req, err := t.newRequest(ctx, http.MethodGet, dir)
	if err != nil {
		return nil, err
	}
	res, err := t.client.Do(req)
	if err := statusError(dir, res, err); err != nil {
		if res != nil {
			res.Body.Close()
		}
		return nil, err
	}
	defer res.Body.Close()

	names, err := parseLinks(req.URL, res.Body)
	if err != nil {
		return nil, fmt.Errorf("httpx: parsing directory listing for %s: %w", dir, err)
	}
	out := make([]transport.Entry, 0, len(names))
	for _, n := range names {
		out = append(out, transport.Entry{Name: n, Size: -1, IsDir: strings.HasSuffix(n, "/")})
	}
	return out, nil
}

// parseLinks walks an HTML document's anchor tags, resolving each href
// against base and deduplicating entries.
func parseLinks(base *url.URL, body io.Reader) ([]string, error) {
	doc, err := html.Parse(body)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				ref, err := url.Parse(a.Val)
				if err != nil {
					break
				}
				resolved := base.ResolveReference(ref)
				rel := strings.TrimPrefix(resolved.String(), base.String())
				if rel == "" || strings.Contains(rel, "://") {
					break
				}
				if _, ok := seen[rel]; !ok {
					seen[rel] = struct{}{}
					names = append(names, rel)
				}
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return names, nil
}

func (t *Transport) Get(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	req, err := t.newRequest(ctx, http.MethodGet, name)
	if err != nil {
		return nil, 0, err
	}
	res, err := t.client.Do(req)
	if err := statusError(name, res, err); err != nil {
		if res != nil {
			res.Body.Close()
		}
		return nil, 0, err
	}
	size := int64(-1)
	if cl := res.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			size = n
		}
	}
	return res.Body, size, nil
}

// Read performs a ranged GET starting at offset, the mechanism behind
// chunked fetch resume.
func (t *Transport) Read(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	req, err := t.newRequest(ctx, http.MethodGet, name)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	res, err := t.client.Do(req)
	if err := statusError(name, res, err); err != nil {
		if res != nil {
			res.Body.Close()
		}
		return nil, err
	}
	if res.StatusCode != http.StatusPartialContent && offset > 0 {
		res.Body.Close()
		return nil, fmt.Errorf("httpx: server did not honour range request for %s (status %s)", name, res.Status)
	}
	return res.Body, nil
}

func (t *Transport) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := t.Write(ctx, name, r, size)
	return err
}

// Write performs an HTTP PUT and returns the response body, used by the
// send worker's WMO-framed upload path where the response carries an
// acknowledgement.
func (t *Transport) Write(ctx context.Context, name string, r io.Reader, size int64) (transport.WriteResponse, error) {
	req, err := t.newRequest(ctx, http.MethodPut, name)
	if err != nil {
		return transport.WriteResponse{}, err
	}
	req.Body = io.NopCloser(r)
	if size >= 0 {
		req.ContentLength = size
	}
	res, err := t.client.Do(req)
	if err := statusError(name, res, err); err != nil {
		if res != nil {
			res.Body.Close()
		}
		return transport.WriteResponse{}, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	return transport.WriteResponse{StatusCode: res.StatusCode, Body: body}, nil
}

func (t *Transport) Delete(ctx context.Context, name string) error {
	req, err := t.newRequest(ctx, http.MethodDelete, name)
	if err != nil {
		return err
	}
	res, err := t.client.Do(req)
	if err := statusError(name, res, err); err != nil {
		if res != nil {
			res.Body.Close()
		}
		return err
	}
	res.Body.Close()
	return nil
}

// Noop issues a HEAD against the base URL as a liveness probe; HTTP has no
// native keep-alive command.
func (t *Transport) Noop(ctx context.Context) error {
	req, err := t.newRequest(ctx, http.MethodHead, ".")
	if err != nil {
		return err
	}
	res, err := t.client.Do(req)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// Quit is a no-op: HTTP has no session to tear down beyond idle connection
// reuse, which net/http manages itself.
func (t *Transport) Quit(ctx context.Context) error { return nil }

var _ transport.Transport = (*Transport)(nil)
