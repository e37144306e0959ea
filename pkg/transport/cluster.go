package transport

import (
	"github.com/hashicorp/raft"
)

// clusterJoinToken, clusterJoin, and clusterInfo expose the replicated
// log's membership-change machinery (one server added or removed at a
// time, through the log itself) over the cluster-internal endpoint
// instead of a bespoke management API, so a joining node only ever needs
// a Transport client to bootstrap.
func (h *Handlers) clusterJoinToken(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ClusterJoinTokenRequest](body)
	if err != nil {
		return nil, err
	}
	token, err := h.Cluster.GenerateJoinToken(req.Role)
	if err != nil {
		return nil, err
	}
	return &ClusterJoinTokenResponse{Token: token.Token, ExpiresAt: token.ExpiresAt}, nil
}

func (h *Handlers) clusterJoin(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ClusterJoinRequest](body)
	if err != nil {
		return nil, err
	}
	if _, err := h.Cluster.ValidateJoinToken(req.Token); err != nil {
		return nil, err
	}
	if err := h.Cluster.AddVoter(req.NodeID, req.Address); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *Handlers) clusterInfo(rc *RequestContext, body []byte) (interface{}, error) {
	servers, err := h.Cluster.GetClusterServers()
	if err != nil {
		return nil, err
	}
	resp := &ClusterInfoResponse{Servers: make([]ClusterServer, 0, len(servers))}
	for _, s := range servers {
		resp.Servers = append(resp.Servers, ClusterServer{
			ID:       string(s.ID),
			Address:  string(s.Address),
			Suffrage: suffrageString(s.Suffrage),
		})
	}
	return resp, nil
}

func suffrageString(s raft.ServerSuffrage) string {
	if s == raft.Voter {
		return "voter"
	}
	return "nonvoter"
}
