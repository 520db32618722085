package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/grovehq/grove/pkg/types"
)

// Client talks to a grove engine's REST v1 API.
type Client struct {
	base string
	http *http.Client
}

// New builds a client for the given base URL, e.g. "http://host:8778".
func New(base string) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError carries a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// ActionRef is returned by every mutation that queued an action.
type ActionRef struct {
	ActionID string
	Location string
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (*http.Response, error) {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, buf)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = string(data)
		}
		return resp, &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func actionRef(resp *http.Response, actionID string) ActionRef {
	return ActionRef{ActionID: actionID, Location: resp.Header.Get("Location")}
}

// ClusterCreate creates a cluster and returns the record plus the
// CLUSTER_CREATE action reference.
func (c *Client) ClusterCreate(ctx context.Context, req map[string]interface{}) (*types.Cluster, ActionRef, error) {
	var out struct {
		Cluster *types.Cluster `json:"cluster"`
		Action  string         `json:"action"`
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/clusters", req, &out)
	if err != nil {
		return nil, ActionRef{}, err
	}
	return out.Cluster, actionRef(resp, out.Action), nil
}

// ClusterGet fetches one cluster.
func (c *Client) ClusterGet(ctx context.Context, id string) (*types.Cluster, error) {
	var out struct {
		Cluster *types.Cluster `json:"cluster"`
	}
	_, err := c.do(ctx, http.MethodGet, "/v1/clusters/"+id, nil, &out)
	return out.Cluster, err
}

// ClusterList lists clusters with optional filters.
func (c *Client) ClusterList(ctx context.Context, filters url.Values) ([]*types.Cluster, error) {
	var out struct {
		Clusters []*types.Cluster `json:"clusters"`
	}
	path := "/v1/clusters"
	if len(filters) > 0 {
		path += "?" + filters.Encode()
	}
	_, err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Clusters, err
}

// ClusterDelete queues CLUSTER_DELETE.
func (c *Client) ClusterDelete(ctx context.Context, id string) (ActionRef, error) {
	var out struct {
		Action string `json:"action"`
	}
	resp, err := c.do(ctx, http.MethodDelete, "/v1/clusters/"+id, nil, &out)
	if err != nil {
		return ActionRef{}, err
	}
	return actionRef(resp, out.Action), nil
}

// ClusterAction posts one operation to the cluster action multiplexer,
// e.g. ClusterAction(ctx, id, "scale_out", map[string]interface{}{"count": 2}).
func (c *Client) ClusterAction(ctx context.Context, id, op string, params interface{}) (ActionRef, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	var out struct {
		Action string `json:"action"`
	}
	body := map[string]interface{}{op: params}
	resp, err := c.do(ctx, http.MethodPost, "/v1/clusters/"+id+"/actions", body, &out)
	if err != nil {
		return ActionRef{}, err
	}
	return actionRef(resp, out.Action), nil
}

// NodeGet fetches one node.
func (c *Client) NodeGet(ctx context.Context, id string) (*types.Node, error) {
	var out struct {
		Node *types.Node `json:"node"`
	}
	_, err := c.do(ctx, http.MethodGet, "/v1/nodes/"+id, nil, &out)
	return out.Node, err
}

// NodeList lists nodes with optional filters.
func (c *Client) NodeList(ctx context.Context, filters url.Values) ([]*types.Node, error) {
	var out struct {
		Nodes []*types.Node `json:"nodes"`
	}
	path := "/v1/nodes"
	if len(filters) > 0 {
		path += "?" + filters.Encode()
	}
	_, err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Nodes, err
}

// ProfileCreate creates a profile.
func (c *Client) ProfileCreate(ctx context.Context, req map[string]interface{}) (*types.Profile, error) {
	var out struct {
		Profile *types.Profile `json:"profile"`
	}
	_, err := c.do(ctx, http.MethodPost, "/v1/profiles", req, &out)
	return out.Profile, err
}

// PolicyCreate creates a policy.
func (c *Client) PolicyCreate(ctx context.Context, req map[string]interface{}) (*types.Policy, error) {
	var out struct {
		Policy *types.Policy `json:"policy"`
	}
	_, err := c.do(ctx, http.MethodPost, "/v1/policies", req, &out)
	return out.Policy, err
}

// ActionGet fetches one action record.
func (c *Client) ActionGet(ctx context.Context, id string) (*types.Action, error) {
	var out struct {
		Action *types.Action `json:"action"`
	}
	_, err := c.do(ctx, http.MethodGet, "/v1/actions/"+id, nil, &out)
	return out.Action, err
}

// ActionSignal delivers a signal to an action.
func (c *Client) ActionSignal(ctx context.Context, id string, sig types.Signal) error {
	body := map[string]interface{}{"signal": string(sig)}
	_, err := c.do(ctx, http.MethodPost, "/v1/actions/"+id+"/signal", body, nil)
	return err
}

// WaitAction polls the action until it reaches a terminal status or the
// context expires.
func (c *Client) WaitAction(ctx context.Context, id string, interval time.Duration) (*types.Action, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a, err := c.ActionGet(ctx, id)
		if err != nil {
			return nil, err
		}
		if a.Status.Terminal() {
			return a, nil
		}
		select {
		case <-ctx.Done():
			return a, ctx.Err()
		case <-ticker.C:
		}
	}
}

// EventList lists audit events with optional filters.
func (c *Client) EventList(ctx context.Context, filters url.Values) ([]*types.Event, error) {
	var out struct {
		Events []*types.Event `json:"events"`
	}
	path := "/v1/events"
	if len(filters) > 0 {
		path += "?" + filters.Encode()
	}
	_, err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Events, err
}
