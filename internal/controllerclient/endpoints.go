package controllerclient

import (
	"context"
	"fmt"
	"net/http"
)

// GetTopology returns the controller's current network graph.
func (c *Client) GetTopology(ctx context.Context) (Topology, error) {
	var out Topology
	err := c.doJSON(ctx, http.MethodGet, "/topology", nil, nil, &out)
	return out, err
}

// FindHoneypot returns the IP of the first honeypot-type node in the
// topology, if any. The returned IP, not the node id, is the redirect
// target a synthesized policy carries.
func (c *Client) FindHoneypot(ctx context.Context) (string, bool, error) {
	topo, err := c.GetTopology(ctx)
	if err != nil {
		return "", false, err
	}
	for _, n := range topo.Nodes {
		if n.Type == "honeypot" && n.IP != "" {
			return n.IP, true, nil
		}
	}
	return "", false, nil
}

// GetNodeStatus returns live status for a node.
func (c *Client) GetNodeStatus(ctx context.Context, nodeID string) (NodeStatus, error) {
	var out NodeStatus
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/nodes/%s/status", nodeID), nil, nil, &out)
	return out, err
}

// GetNodeStats returns live telemetry for a node.
func (c *Client) GetNodeStats(ctx context.Context, nodeID string) (NodeStats, error) {
	var out NodeStats
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/nodes/%s/stats", nodeID), nil, nil, &out)
	return out, err
}

// GetLinkStatus returns live status for a link.
func (c *Client) GetLinkStatus(ctx context.Context, linkID string) (LinkStatus, error) {
	var out LinkStatus
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/links/%s/status", linkID), nil, nil, &out)
	return out, err
}

// GetLinkStats returns live telemetry for a link.
func (c *Client) GetLinkStats(ctx context.Context, linkID string) (LinkStats, error) {
	var out LinkStats
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/links/%s/stats", linkID), nil, nil, &out)
	return out, err
}

// ListPolicies returns every policy the controller currently holds.
func (c *Client) ListPolicies(ctx context.Context) ([]Policy, error) {
	var out []Policy
	err := c.doJSON(ctx, http.MethodGet, "/policies", nil, nil, &out)
	return out, err
}

// GetPolicy returns a single policy by id.
func (c *Client) GetPolicy(ctx context.Context, id string) (Policy, error) {
	var out Policy
	err := c.doJSON(ctx, http.MethodGet, "/policies/"+id, nil, nil, &out)
	return out, err
}

// CreatePolicy registers a new policy and returns it with its assigned id.
func (c *Client) CreatePolicy(ctx context.Context, policy Policy) (Policy, error) {
	var out Policy
	err := c.doJSON(ctx, http.MethodPost, "/policies", policy, nil, &out)
	return out, err
}

// UpdatePolicy replaces an existing policy.
func (c *Client) UpdatePolicy(ctx context.Context, id string, policy Policy) (Policy, error) {
	var out Policy
	err := c.doJSON(ctx, http.MethodPut, "/policies/"+id, policy, nil, &out)
	return out, err
}

// DeletePolicy removes a policy.
func (c *Client) DeletePolicy(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/policies/"+id, nil, nil, nil)
}

// ApplyPolicy pushes a previously created policy to the enforcement plane,
// scoped to the given flow so it only affects the traffic that triggered it.
func (c *Client) ApplyPolicy(ctx context.Context, id, flowID string) error {
	body := map[string][]string{"target_flows": {flowID}}
	return c.doJSON(ctx, http.MethodPost, "/policies/"+id+"/apply", body, nil, nil)
}

// RevokePolicy withdraws a previously applied policy.
func (c *Client) RevokePolicy(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/policies/"+id+"/revoke", nil, nil, nil)
}

// GetAlerts returns controller-raised alerts.
func (c *Client) GetAlerts(ctx context.Context) ([]Alert, error) {
	var out []Alert
	err := c.doJSON(ctx, http.MethodGet, "/alerts", nil, nil, &out)
	return out, err
}

// GetHoneypotLogs returns interaction records from honeypot nodes.
func (c *Client) GetHoneypotLogs(ctx context.Context) ([]HoneypotLog, error) {
	var out []HoneypotLog
	err := c.doJSON(ctx, http.MethodGet, "/honeypot/logs", nil, nil, &out)
	return out, err
}

// VerifyToken asks the controller whether the current access token is
// still valid.
func (c *Client) VerifyToken(ctx context.Context) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/auth/verify", nil, nil, &out)
	return out.Valid, err
}

// RevokeToken invalidates the current token pair controller-side.
func (c *Client) RevokeToken(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/revoke", nil, nil, nil)
}
