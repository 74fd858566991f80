// Copyright 2026 The Gpd-Runtime Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ipc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/context"

	gpd "github.com/aschulz-kairox/git-push-deploy-daemon"
)

// Client talks to a running master's loopback control plane.
type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client
}

// NewClient returns a Client handle.  The transport may be nil to use
// a default transport.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		base:   strings.TrimRight(baseURI, "/"),
		client: &http.Client{Transport: t},
	}
}

// NewClientForDir locates the master whose runtime files live in dir
// by reading the port sidecar.  A missing sidecar means the IPC surface
// is unavailable; gpd.ErrNotRunning is returned and callers may fall
// back to host signals.
func NewClientForDir(dir string) (*Client, error) {
	port, err := gpd.ReadPortFile(dir)
	if err != nil {
		return nil, gpd.ErrNotRunning
	}
	return NewClient(nil, fmt.Sprintf("http://127.0.0.1:%d", port)), nil
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) get(ctx context.Context, url string, v interface{}) error {
	req, e := http.NewRequest("GET", url, nil)
	if e != nil {
		return e
	}
	req = req.WithContext(ctx)
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return e
	}
	if res.StatusCode != http.StatusOK {
		return decodeError(res.StatusCode, body)
	}
	return json.Unmarshal(body, v)
}

// post sends one command to the given route and checks the ack that
// comes back.  Commands carry no request body.
func (c *Client) post(path string) error {
	req, err := http.NewRequest("POST", c.base+path, nil)
	if err != nil {
		return err
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	body, rerr := io.ReadAll(res.Body)
	res.Body.Close()
	if rerr != nil {
		return rerr
	}
	if res.StatusCode != http.StatusOK {
		return decodeError(res.StatusCode, body)
	}
	var ack Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return err
	}
	if !ack.Ok {
		return &Error{Code: res.StatusCode, Message: "command not acknowledged"}
	}
	return nil
}

func decodeError(code int, body []byte) error {
	eb := &ErrorBody{}
	if json.Unmarshal(body, eb) == nil && eb.Error != "" {
		return &Error{Code: code, Message: eb.Error}
	}
	return &Error{Code: code, Message: http.StatusText(code)}
}

// Status fetches the current runtime status.
func (c *Client) Status() (*RuntimeStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rv := &RuntimeStatus{}
	if e := c.get(ctx, c.base+"/status", rv); e != nil {
		return nil, e
	}
	return rv, nil
}

// GetLog fetches all retained lifecycle event records, or none when
// last equals the master's current record id.
func (c *Client) GetLog(last int64) ([]gpd.EventRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var recs []gpd.EventRecord
	url := fmt.Sprintf("%s/log?last=%d", c.base, last)
	if e := c.get(ctx, url, &recs); e != nil {
		return nil, e
	}
	return recs, nil
}

func (c *Client) Reload() error {
	return c.post("/reload")
}

func (c *Client) Stop() error {
	return c.post("/stop")
}

func (c *Client) ScaleUp() error {
	return c.post("/scale/up")
}

func (c *Client) ScaleDown() error {
	return c.post("/scale/down")
}
