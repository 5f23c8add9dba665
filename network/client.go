// Package network implements the upload backend contracts over the HTTP API
// of the upload service.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzhttp"
)

// Params ...
type Params struct {
	APIBaseURL string
	// DownloadBaseURL serves finished sessions. Defaults to APIBaseURL.
	DownloadBaseURL string
	// Token is sent as a bearer token when not empty.
	Token string
}

// Client talks to the upload API. It implements upload.Backend and
// upload.Catalog.
type Client struct {
	httpClient      *retryablehttp.Client
	downloadClient  *http.Client
	apiBaseURL      string
	downloadBaseURL string
	token           string
	logger          log.Logger
}

// NewClient ...
func NewClient(params Params, logger log.Logger) (*Client, error) {
	if params.APIBaseURL == "" {
		return nil, errors.New("API base URL is empty")
	}

	downloadBaseURL := params.DownloadBaseURL
	if downloadBaseURL == "" {
		downloadBaseURL = params.APIBaseURL
	}

	httpClient := retryhttp.NewClient(logger)
	httpClient.CheckRetry = createCustomRetryFunction(logger)
	httpClient.HTTPClient.Transport = gzhttp.Transport(httpClient.HTTPClient.Transport)

	// Downloads are ranged, so they stay on an uncompressed transport.
	downloadClient := retryhttp.NewClient(logger)
	downloadClient.CheckRetry = createCustomRetryFunction(logger)

	return &Client{
		httpClient:      httpClient,
		downloadClient:  downloadClient.StandardClient(),
		apiBaseURL:      strings.TrimSuffix(params.APIBaseURL, "/"),
		downloadBaseURL: strings.TrimSuffix(downloadBaseURL, "/"),
		token:           params.Token,
		logger:          logger,
	}, nil
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, requestErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, requestErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", retry, err, requestErr)
		return retry, err
	}
}

func (c *Client) newRequest(ctx context.Context, method, url string, body interface{}) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	return req, nil
}

// do sends req and returns the response of a 2xx status. Any other status
// is turned into an error carrying the response body.
func (c *Client) do(req *retryablehttp.Request, name string, dumpBody bool) (*http.Response, error) {
	dump, err := httputil.DumpRequest(req.Request, dumpBody)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("%s request dump: %s", name, string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	dump, err = httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("%s response dump: %s", name, string(dump))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer c.closeBody(resp.Body)
		return nil, unwrapError(resp)
	}
	return resp, nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf("%s", err)
	}
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(errorResp)))
}
