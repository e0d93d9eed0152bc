// Package dsm implements a client for the Dell Storage Manager
// Data Collector REST API.
package dsm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"

	"compellent/config"
	cErrors "compellent/errors"
)

// NewClient returns a Data Collector client configured from the dsm
// config section. The client holds no session until Login is called.
func NewClient(cfg *config.DSM, password string) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating dsm config")
	}

	// The Data Collector issues a session cookie on login, which must
	// be replayed on every subsequent request.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating cookie jar")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &Client{
		cfg:      cfg,
		password: password,
		baseURL:  cfg.BaseURL(),
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   cfg.Timeout(),
		},
	}, nil
}

// Client is a connection to a Dell Storage Manager Data Collector.
type Client struct {
	cfg      *config.DSM
	password string
	baseURL  string
	client   *http.Client

	connection ApiConnection
}

// apiError is the error body returned by the Data Collector.
type apiError struct {
	Result   string   `json:"result"`
	Messages []string `json:"messages"`
}

func (a apiError) details(fallback string) string {
	if len(a.Messages) > 0 {
		return strings.Join(a.Messages, "; ")
	}
	return fallback
}

// Login opens a session with the Data Collector.
func (c *Client) Login(ctx context.Context) error {
	var conn ApiConnection
	if err := c.do(ctx, http.MethodPost, "/ApiConnection/Login", nil, &conn); err != nil {
		return errors.Wrap(err, "logging into data collector")
	}
	c.connection = conn
	return nil
}

// Logout closes the session. Errors are returned, but callers tearing
// down a session may safely ignore them.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/ApiConnection/Logout", nil, nil); err != nil {
		return errors.Wrap(err, "logging out of data collector")
	}
	return nil
}

// Connection returns the session details obtained on login.
func (c *Client) Connection() ApiConnection {
	return c.connection
}

// StorageCenter returns the Storage Center serial this client is
// scoped to.
func (c *Client) StorageCenter() string {
	return c.cfg.StorageCenter
}

// qualifyID prefixes bare object IDs with the Storage Center serial.
// "3" becomes "64702.3", while fully qualified IDs pass through.
func (c *Client) qualifyID(id string) string {
	if strings.Contains(id, ".") {
		return id
	}
	return c.cfg.StorageCenter + "." + id
}

// do issues a single API request. Requests are retried with
// exponential backoff on network errors and server side failures.
// Client side errors are mapped onto the typed error hierarchy and
// returned without retrying.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	operation := func() ([]byte, error) {
		var reader *bytes.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		} else {
			reader = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, backoff.Permanent(errors.Wrap(err, "creating request"))
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("x-dell-api-version", c.cfg.Version())
		req.SetBasicAuth(c.cfg.User, c.password)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, errors.Wrapf(err, "calling %s", path)
		}
		defer resp.Body.Close()

		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return nil, errors.Wrap(err, "reading response body")
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return buf.Bytes(), nil
		}

		var apiErr apiError
		// The body is not always JSON. A decode failure simply
		// leaves the messages empty.
		json.Unmarshal(buf.Bytes(), &apiErr)

		err = mapStatusError(resp.StatusCode, path, apiErr)
		if resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrapf(err, "decoding response from %s", path)
		}
	}
	return nil
}

func mapStatusError(statusCode int, path string, apiErr apiError) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return cErrors.NewUnauthorizedError("%s", apiErr.details("invalid credentials"))
	case http.StatusNotFound:
		return cErrors.NewNotFoundError("%s", apiErr.details(fmt.Sprintf("resource %s not found", path)))
	case http.StatusBadRequest:
		return cErrors.NewBadRequestError("%s", apiErr.details(fmt.Sprintf("bad request to %s", path)))
	case http.StatusConflict:
		return cErrors.NewConflictError("%s", apiErr.details(fmt.Sprintf("conflicting request to %s", path)))
	default:
		return fmt.Errorf("request to %s failed with status %d: %s",
			path, statusCode, apiErr.details("no details"))
	}
}
