// Package catalog is the client for the remote product catalog API.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/metheoryt/arbuz-concierge/internal/logger"
)

const (
	DefaultBaseURL = "https://arbuz.kz/"
	DefaultAPIBase = "https://arbuz.kz/api/v1/"

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) arbuz-concierge/0.1"
)

var platformConfigRe = regexp.MustCompile(`window\.platformConfiguration\s*=\s*(.*);`)

// Options configures a Client. Zero values fall back to the defaults noted.
type Options struct {
	BaseURL string // site root serving the bootstrap page and the category tree
	APIBase string // REST API root, with trailing slash
	// RequestInterval is the minimum pause between two requests to the catalog.
	// It applies to retries too.
	RequestInterval time.Duration
	MaxRetries      int           // retries after the first attempt, default 3
	RetryInitial    time.Duration // first backoff interval
	Timeout         time.Duration // per request, default 30s
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client issues paced, retried reads against the catalog API.
type Client struct {
	baseURL      string
	apiBase      string
	http         *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	retryInitial time.Duration
	log          *logger.Logger
}

// Session is an authenticated catalog session. It is created once per run.
type Session struct {
	http  *http.Client
	token string
}

// NewClient creates a catalog client.
func NewClient(opts Options, log *logger.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.APIBase == "" {
		opts.APIBase = DefaultAPIBase
	}
	if !strings.HasSuffix(opts.APIBase, "/") {
		opts.APIBase += "/"
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RequestInterval > 0 {
		limit = rate.Every(opts.RequestInterval)
	}

	return &Client{
		baseURL:      opts.BaseURL,
		apiBase:      opts.APIBase,
		http:         hc,
		limiter:      rate.NewLimiter(limit, 1),
		maxRetries:   opts.MaxRetries,
		retryInitial: opts.RetryInitial,
		log:          logger.OrNop(log).With("component", "catalog_client"),
	}
}

// Authenticate fetches the bootstrap page, extracts the embedded platform
// configuration and exchanges its consumer credentials for a session.
// Any failure here is fatal for the run.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	sess := &Session{http: &http.Client{
		Transport: c.http.Transport,
		Timeout:   c.http.Timeout,
		Jar:       jar,
	}}

	c.log.Info("Logging in", "url", c.baseURL)
	page, err := c.get(ctx, sess, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: bootstrap page: %w", ErrAuthFailed, err)
	}

	m := platformConfigRe.FindSubmatch(page)
	if m == nil {
		return nil, fmt.Errorf("%w: platform configuration not found", ErrMalformedResponse)
	}
	if !gjson.ValidBytes(m[1]) {
		return nil, fmt.Errorf("%w: platform configuration is not valid JSON", ErrMalformedResponse)
	}
	consumer := gjson.GetBytes(m[1], "consumer.desktop.name")
	key := gjson.GetBytes(m[1], "consumer.desktop.key")
	if !consumer.Exists() || !key.Exists() {
		return nil, fmt.Errorf("%w: platform configuration has no desktop consumer", ErrMalformedResponse)
	}

	form := url.Values{
		"consumer": {consumer.String()},
		"key":      {key.String()},
	}
	body, err := c.post(ctx, sess, c.apiBase+"auth/token", form)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if token := gjson.GetBytes(body, "data.token"); token.Exists() {
		sess.token = token.String()
	} else if token := gjson.GetBytes(body, "token"); token.Exists() {
		sess.token = token.String()
	}

	c.log.Info("Logged in", "bearer", sess.token != "")
	return sess, nil
}

// FetchCategoryTree fetches the homepage and parses the embedded category tree.
// Callers should go through a TreeCache so it happens once per run.
func (c *Client) FetchCategoryTree(ctx context.Context) (*Tree, error) {
	page, err := c.get(ctx, nil, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch homepage: %w", err)
	}
	tree, err := parseCategoryTree(string(page))
	if err != nil {
		return nil, err
	}
	c.log.Info("Fetched category tree", "categories", tree.Len(), "roots", len(tree.roots))
	return tree, nil
}

type catalogEnvelope struct {
	Data struct {
		Catalogs struct {
			Data []RemoteCategory `json:"data"`
		} `json:"catalogs"`
		Products struct {
			Count int             `json:"count"`
			Data  []RemoteProduct `json:"data"`
		} `json:"products"`
	} `json:"data"`
}

// FetchCategoryInfo returns the product count and the direct subcategories of
// a category. A vanished category yields an error matching ErrNotFound.
func (c *Client) FetchCategoryInfo(ctx context.Context, sess *Session, categoryID int64) (CategoryInfo, error) {
	c.log.Debug("Getting category info", "category_id", categoryID)
	env, err := c.fetchCatalog(ctx, sess, categoryID, url.Values{
		"limit": {"0"},
		"page":  {"1"},
	})
	if err != nil {
		return CategoryInfo{}, err
	}
	subs := env.Data.Catalogs.Data
	for i := range subs {
		subs[i].Name = StripHTML(subs[i].Name)
	}
	return CategoryInfo{
		ProductCount:  env.Data.Products.Count,
		Subcategories: subs,
	}, nil
}

// FetchProductPage returns one page (1-based) of a category's product listing.
func (c *Client) FetchProductPage(ctx context.Context, sess *Session, categoryID int64, page, pageSize int) ([]RemoteProduct, error) {
	c.log.Debug("Getting products", "category_id", categoryID, "page", page, "page_size", pageSize)
	env, err := c.fetchCatalog(ctx, sess, categoryID, url.Values{
		"limit":      {strconv.Itoa(pageSize)},
		"page":       {strconv.Itoa(page)},
		"sort[mock]": {""},
	})
	if err != nil {
		return nil, err
	}
	products := env.Data.Products.Data
	for i := range products {
		products[i].Normalize()
	}
	return products, nil
}

func (c *Client) fetchCatalog(ctx context.Context, sess *Session, categoryID int64, query url.Values) (*catalogEnvelope, error) {
	endpoint := c.apiBase + "shop/catalog/" + strconv.FormatInt(categoryID, 10)
	body, err := c.get(ctx, sess, endpoint, query)
	if err != nil {
		return nil, err
	}
	var env catalogEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode catalog %d: %w", categoryID, err)
	}
	return &env, nil
}

// get performs a paced GET with exponential backoff on transient failures.
// 404 and other non-retryable statuses return immediately as *HTTPError.
func (c *Client) get(ctx context.Context, sess *Session, endpoint string, query url.Values) ([]byte, error) {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := c.newRequest(ctx, sess, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		data, status, err := c.do(sess, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err // transport errors and timeouts are retried
		}
		if status >= 200 && status < 300 {
			body = data
			return nil
		}
		httpErr := &HTTPError{StatusCode: status, URL: endpoint}
		if retryableStatus(status) {
			return httpErr
		}
		return backoff.Permanent(httpErr)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxElapsedTime = 0 // bounded by the retry count instead

	notify := func(err error, wait time.Duration) {
		c.log.Warn("Retrying catalog request", "url", endpoint, "error", err, "wait", wait)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx), notify)
	if err == nil {
		return body, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && !retryableStatus(httpErr.StatusCode) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, endpoint, err)
}

// post sends a paced form POST. POSTs are never retried.
func (c *Client) post(ctx context.Context, sess *Session, endpoint string, form url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, sess, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	data, status, err := c.do(sess, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &HTTPError{StatusCode: status, URL: endpoint}
	}
	return data, nil
}

func (c *Client) newRequest(ctx context.Context, sess *Session, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/html")
	if sess != nil && sess.token != "" {
		req.Header.Set("Authorization", "Bearer "+sess.token)
	}
	return req, nil
}

func (c *Client) do(sess *Session, req *http.Request) ([]byte, int, error) {
	hc := c.http
	if sess != nil && sess.http != nil {
		hc = sess.http
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	return data, resp.StatusCode, nil
}
