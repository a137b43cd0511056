package mozello

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// Client talks to the Mozello Store API. Every call, regardless of caller,
// acquires the client's rate limiter before the request goes out, so one
// client instance is the single serialization point for the whole process.
type Client struct {
	baseURL     string
	apiKey      string
	http        *http.Client
	limiter     *rate.Limiter
	retryBase   time.Duration
	maxAttempts uint64
}

type Option func(*Client)

// WithMinInterval overrides the minimum spacing between outbound calls.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithMaxAttempts bounds the total tries per call (first attempt included).
func WithMaxAttempts(n uint64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithRetryBase(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryBase = d
		}
	}
}

func NewClient(apiKey string, baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNotConfigured
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      strings.TrimSpace(apiKey),
		http:        &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		retryBase:   500 * time.Millisecond,
		maxAttempts: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// do issues one API call: acquire the rate gate, send, decode. Transient
// failures (network, 5xx, 429) are retried with exponential backoff up to
// maxAttempts; other 4xx surface immediately as *APIError.
func (c *Client) do(ctx context.Context, method string, path string, params url.Values, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	backoff := retry.WithMaxRetries(c.maxAttempts-1, retry.NewExponential(c.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "ApiKey "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
			if apiErr.Transient() {
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decoding mozello response: %w", err)
			}
		}
		return nil
	})
}

func productPath(handle string) string {
	return "/store/product/" + url.PathEscape(handle) + "/"
}

// GetProduct fetches one remote product; a 404 means the handle does not
// exist remotely and is returned as (nil, nil).
func (c *Client) GetProduct(ctx context.Context, handle string) (*Product, error) {
	var resp productResponse
	err := c.do(ctx, http.MethodGet, productPath(handle), nil, nil, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return resp.Product, nil
}

func (c *Client) CreateProduct(ctx context.Context, product *Product) error {
	var resp okResponse
	return c.do(ctx, http.MethodPost, "/store/product/", nil, product, &resp)
}

func (c *Client) UpdateProduct(ctx context.Context, handle string, product *Product) error {
	var resp okResponse
	return c.do(ctx, http.MethodPut, productPath(handle), nil, product, &resp)
}

func (c *Client) DeleteProduct(ctx context.Context, handle string) error {
	var resp okResponse
	return c.do(ctx, http.MethodDelete, productPath(handle), nil, nil, &resp)
}

// ListProducts pages through the remote catalog. Pages start at 1.
func (c *Client) ListProducts(ctx context.Context, page int) ([]Product, bool, error) {
	params := url.Values{}
	if page > 1 {
		params.Set("page", strconv.Itoa(page))
	}
	var resp productListResponse
	if err := c.do(ctx, http.MethodGet, "/store/products/", params, nil, &resp); err != nil {
		return nil, false, err
	}
	return resp.Products, resp.HasMore, nil
}

func (c *Client) ListProductPictures(ctx context.Context, handle string) ([]Picture, error) {
	var resp pictureListResponse
	if err := c.do(ctx, http.MethodGet, productPath(handle)+"pictures/", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pictures, nil
}

// AttachProductPicture uploads base64 picture data to a remote product.
func (c *Client) AttachProductPicture(ctx context.Context, handle string, dataB64 string) (*Picture, error) {
	body := map[string]string{"data": dataB64}
	var resp pictureResponse
	if err := c.do(ctx, http.MethodPost, productPath(handle)+"picture/", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.Picture, nil
}

func (c *Client) RemoveProductPicture(ctx context.Context, handle string, uid string) error {
	var resp okResponse
	return c.do(ctx, http.MethodDelete, productPath(handle)+"picture/"+url.PathEscape(uid)+"/", nil, nil, &resp)
}

// ListOrders pages through remote orders filtered by creation date.
// Pages start at 1; hasMore signals another page is available.
func (c *Client) ListOrders(ctx context.Context, from *time.Time, to *time.Time, page int) ([]Order, bool, error) {
	params := url.Values{}
	if from != nil {
		params.Set("from", from.Format("2006-01-02"))
	}
	if to != nil {
		params.Set("to", to.Format("2006-01-02"))
	}
	if page > 1 {
		params.Set("page", strconv.Itoa(page))
	}
	var resp orderListResponse
	if err := c.do(ctx, http.MethodGet, "/store/orders/", params, nil, &resp); err != nil {
		return nil, false, err
	}
	return resp.Orders, resp.HasMore, nil
}

// PutNotificationSettings tells the platform where to deliver webhooks and
// which event kinds to send.
func (c *Client) PutNotificationSettings(ctx context.Context, settings NotificationSettings) error {
	var resp okResponse
	return c.do(ctx, http.MethodPut, "/store/notifications/", nil, settings, &resp)
}
