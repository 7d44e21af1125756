package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"feedwatch/internal/model"
)

func newClient(timeout time.Duration, ua, cookie, proxy string) *resty.Client {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", ua)
	if cookie != "" {
		client.SetHeader("Cookie", cookie)
	}
	if proxy != "" {
		client.SetProxy(proxy)
	}
	return client
}

// biliClients holds a direct client and, when configured, one that goes
// through the rate-limit proxy.
type biliClients struct {
	direct  *resty.Client
	proxied *resty.Client
	// useProxy is consulted once per request.
	useProxy func() bool
}

func newBiliClients(cfg Config) *biliClients {
	c := &biliClients{
		direct:   newClient(cfg.Timeout, cfg.DesktopUA, cfg.Cookies.Bilibili, ""),
		useProxy: func() bool { return rand.Float64() < .5 },
	}
	if cfg.RateLimitProxy != "" {
		c.proxied = newClient(cfg.Timeout, cfg.DesktopUA, cfg.Cookies.Bilibili, cfg.RateLimitProxy)
	}
	return c
}

func (c *biliClients) pick() *resty.Client {
	if c.proxied != nil && c.useProxy() {
		return c.proxied
	}
	return c.direct
}

func get(ctx context.Context, c *resty.Client, p model.Provider, url string, query map[string]string) ([]byte, error) {
	resp, err := c.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(url)
	if err != nil {
		return nil, fetchErr(p, err)
	}
	if resp.IsError() {
		return nil, fetchErr(p, fmt.Errorf("GET %s: status %d", url, resp.StatusCode()))
	}
	return resp.Body(), nil
}

func getJSON(ctx context.Context, c *resty.Client, p model.Provider, url string, query map[string]string, out any) error {
	body, err := get(ctx, c, p, url, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return malformed(p, "decode %s: %v", url, err)
	}
	return nil
}

func getDocument(ctx context.Context, c *resty.Client, p model.Provider, url string) (*goquery.Document, error) {
	body, err := get(ctx, c, p, url, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, malformed(p, "parse html %s: %v", url, err)
	}
	return doc, nil
}

// stripHTML drops markup, turning <br> into newlines.
func stripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("br").ReplaceWithHtml("\n")
	return doc.Text()
}
