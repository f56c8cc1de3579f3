// Package peer is the control plane HTTP client nodes use to talk to each
// other.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// TokenHeader carries the shared secret on every control plane call.
const TokenHeader = "Token"

// Endpoint is one remote node as listed in the cluster topology.
type Endpoint struct {
	Name   string `yaml:"name" json:"name"`
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Secret string `yaml:"secret" json:"-"`

	// Fastrouter is the subscription server port of an Air node.
	Fastrouter int `yaml:"fastrouter,omitempty" json:"fastrouter,omitempty"`
}

// URL returns the address of an /api resource on the endpoint.
func (e Endpoint) URL(resource string) string {
	return "http://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) + "/api/" + resource
}

// FastrouterAddr is the "host:port" leaves subscribe to.
func (e Endpoint) FastrouterAddr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Fastrouter))
}

// Response is a peer answer, whatever its status code.
type Response struct {
	Code int
	Body []byte
}

func (r *Response) OK() bool { return r.Code >= 200 && r.Code < 300 }

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode peer response: %w", err)
	}
	return nil
}

// TransportError reports a call that never got an HTTP answer.
type TransportError struct {
	Endpoint string
	Resource string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("call %s on %s: %v", e.Resource, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client sends authenticated JSON requests to peers.
type Client struct {
	http *http.Client
}

// NewClient builds a client with a dial timeout and a total per call
// timeout of connect+request.
func NewClient(connectTimeout, requestTimeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Timeout: connectTimeout + requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   connectTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do calls resource on ep. body, when not nil, is sent as JSON. Non 2xx
// answers are returned as responses; only transport failures are errors.
func (c *Client) Do(ctx context.Context, ep Endpoint, method, resource string, body any) (*Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, ep.URL(resource), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(TokenHeader, ep.Secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: ep.Name, Resource: resource, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: ep.Name, Resource: resource, Err: err}
	}
	return &Response{Code: resp.StatusCode, Body: raw}, nil
}
