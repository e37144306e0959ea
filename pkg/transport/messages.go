package transport

import (
	"time"

	"github.com/concordkv/concord/pkg/configstore"
	"github.com/concordkv/concord/pkg/subscriber"
	"github.com/concordkv/concord/pkg/types"
)

// Envelope Type constants. Client-to-server request types are named for
// the operation; server-to-client push types are named for the event
// they announce.
const (
	TypeConnectionSetup = "ConnectionSetup"
	TypeBatchListen     = "BatchListen"

	TypeConfigGet         = "ConfigGet"
	TypeConfigPublish     = "ConfigPublish"
	TypeConfigRemove      = "ConfigRemove"
	TypeConfigRollback    = "ConfigRollback"
	TypeConfigList        = "ConfigList"
	TypeConfigPublishGray = "ConfigPublishGray"
	TypeConfigSearchFuzzy = "ConfigSearchFuzzy"
	TypeConfigSubscribe   = "ConfigSubscribe"
	TypeConfigUnsubscribe = "ConfigUnsubscribe"
	TypeConfigWatch       = "ConfigWatch"
	TypeConfigUnwatch     = "ConfigUnwatch"

	TypeInstanceRegister    = "InstanceRegister"
	TypeInstanceDeregister  = "InstanceDeregister"
	TypeInstanceHeartbeat   = "InstanceHeartbeat"
	TypeInstanceList        = "InstanceList"
	TypeInstanceSubscribe   = "InstanceSubscribe"
	TypeInstanceUnsubscribe = "InstanceUnsubscribe"

	TypeLockAcquire = "LockAcquire"
	TypeLockRelease = "LockRelease"
	TypeLockRenew   = "LockRenew"

	TypeSessionCreate          = "SessionCreate"
	TypeSessionDestroy         = "SessionDestroy"
	TypeSessionRenew           = "SessionRenew"
	TypeSessionInfo            = "SessionInfo"
	TypeSessionAssociateKey    = "SessionAssociateKey"
	TypeSessionDisassociateKey = "SessionDisassociateKey"

	TypeDistroSync     = "DistroSync"
	TypeDistroVerify   = "DistroVerify"
	TypeDistroSnapshot = "DistroSnapshot"

	TypeClusterJoinToken = "ClusterJoinToken"
	TypeClusterJoin      = "ClusterJoin"
	TypeClusterInfo      = "ClusterInfo"

	// Server-initiated pushes.
	TypeConfigChangeNotify      = "ConfigChangeNotify"
	TypeServiceInstancesChanged = "ServiceInstancesChanged"
)

// ConnectionSetupRequest is the first message every stream must send.
type ConnectionSetupRequest struct {
	ClientVersion string            `json:"clientVersion"`
	Namespace     string            `json:"namespace"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// ConnectionSetupResponse acks a setup with the server-assigned id.
type ConnectionSetupResponse struct {
	ConnectionID string `json:"connectionId"`
}

// BatchListenRequest re-subscribes connID to every key in Entries
// (key -> last-known md5), the warm-start reconciliation path.
type BatchListenRequest struct {
	Entries map[string]string `json:"entries"`
}

// BatchListenResponse reports which entries are stale.
type BatchListenResponse struct {
	Stale []subscriber.StaleEntry `json:"stale"`
}

// configKey is embedded by every request that addresses one
// configuration item by its three-level identity.
type configKey struct {
	Namespace string `json:"namespace"`
	Group     string `json:"group"`
	DataID    string `json:"dataId"`
}

func (k configKey) id() types.ConfigID {
	return types.ConfigID{Namespace: k.Namespace, Group: k.Group, DataID: k.DataID}
}

func configKeyOf(id types.ConfigID) configKey {
	return configKey{Namespace: id.Namespace, Group: id.Group, DataID: id.DataID}
}

// ConfigGetRequest reads one item, resolved against the gray-release
// rule for the presented client identity.
type ConfigGetRequest struct {
	configKey
	ClientIP string            `json:"clientIp,omitempty"`
	ClientID string            `json:"clientId,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// ConfigGetResponse carries the resolved content.
type ConfigGetResponse struct {
	Content     []byte `json:"content"`
	ContentType string `json:"contentType"`
	MD5         string `json:"md5"`
}

// ConfigPublishRequest publishes or updates an item.
type ConfigPublishRequest struct {
	configKey
	Content     []byte   `json:"content"`
	ContentType string   `json:"contentType"`
	Tags        []string `json:"tags,omitempty"`
	Application string   `json:"application,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ConfigRemoveRequest deletes an item.
type ConfigRemoveRequest struct {
	configKey
}

// ConfigRollbackRequest re-publishes a prior history version.
type ConfigRollbackRequest struct {
	configKey
	Version uint64 `json:"version"`
}

// ConfigPublishGrayRequest attaches a gray-release rule.
type ConfigPublishGrayRequest struct {
	configKey
	Rule *types.GrayRule `json:"rule"`
}

// ConfigListRequest lists items in a namespace/group, optionally
// narrowed by tag, application, content glob, and paginated.
type ConfigListRequest struct {
	Namespace   string `json:"namespace"`
	Group       string `json:"group"`
	Tag         string `json:"tag,omitempty"`
	Application string `json:"application,omitempty"`
	ContentGlob string `json:"contentGlob,omitempty"`
	Page        int    `json:"page,omitempty"`
	PageSize    int    `json:"pageSize,omitempty"`
}

// ConfigListResponse is a page of matching items plus the total count.
type ConfigListResponse struct {
	Items []*types.ConfigItem `json:"items"`
	Total int                 `json:"total"`
}

// ConfigSearchFuzzyRequest globs over the composite namespace/group/
// data-id key.
type ConfigSearchFuzzyRequest struct {
	Pattern string `json:"pattern"`
}

// ConfigSearchFuzzyResponse is every matching item.
type ConfigSearchFuzzyResponse struct {
	Items []*types.ConfigItem `json:"items"`
}

// ConfigSubscribeRequest registers the calling connection for exact-key
// push notifications.
type ConfigSubscribeRequest struct {
	configKey
}

// ConfigUnsubscribeRequest drops an exact-key subscription.
type ConfigUnsubscribeRequest struct {
	configKey
}

// ConfigWatchRequest registers the calling connection for glob-pattern
// push notifications over the composite key.
type ConfigWatchRequest struct {
	Pattern string `json:"pattern"`
}

// ConfigUnwatchRequest drops a glob-pattern watch.
type ConfigUnwatchRequest struct {
	Pattern string `json:"pattern"`
}

// ConfigChangeNotify is pushed to every subscriber/watcher of a changed
// key.
type ConfigChangeNotify struct {
	configKey
	MD5 string `json:"md5"`
}

// serviceKey is embedded by every request that addresses one service by
// its three-level identity.
type serviceKey struct {
	Namespace string `json:"namespace"`
	Group     string `json:"group"`
	Name      string `json:"name"`
}

func (k serviceKey) id() types.ServiceID {
	return types.ServiceID{Namespace: k.Namespace, Group: k.Group, Name: k.Name}
}

// InstanceRegisterRequest registers (or updates) one service instance.
type InstanceRegisterRequest struct {
	serviceKey
	Cluster   string            `json:"cluster"`
	IP        string            `json:"ip"`
	Port      int               `json:"port"`
	Weight    float64           `json:"weight,omitempty"`
	Ephemeral bool              `json:"ephemeral"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (r InstanceRegisterRequest) instance() *types.Instance {
	return &types.Instance{
		Service:   r.id(),
		Cluster:   r.Cluster,
		IP:        r.IP,
		Port:      r.Port,
		Weight:    r.Weight,
		Enabled:   true,
		Healthy:   true,
		Ephemeral: r.Ephemeral,
		Metadata:  r.Metadata,
	}
}

// InstanceDeregisterRequest removes one instance.
type InstanceDeregisterRequest struct {
	serviceKey
	Cluster   string `json:"cluster"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	Ephemeral bool   `json:"ephemeral"`
}

func (r InstanceDeregisterRequest) instance() *types.Instance {
	return &types.Instance{Service: r.id(), Cluster: r.Cluster, IP: r.IP, Port: r.Port, Ephemeral: r.Ephemeral}
}

// InstanceHeartbeatRequest refreshes an ephemeral instance's TTL clock.
type InstanceHeartbeatRequest struct {
	serviceKey
	Cluster string `json:"cluster"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
}

func (r InstanceHeartbeatRequest) instance() *types.Instance {
	return &types.Instance{Service: r.id(), Cluster: r.Cluster, IP: r.IP, Port: r.Port, Ephemeral: true}
}

// InstanceListRequest reads instances for a service/cluster.
type InstanceListRequest struct {
	serviceKey
	Cluster string `json:"cluster,omitempty"`
}

// InstanceListResponse is the resolved instance set, already filtered by
// the protection threshold.
type InstanceListResponse struct {
	Instances []*types.Instance `json:"instances"`
}

// InstanceSubscribeRequest registers the calling connection for
// service-instance push notifications.
type InstanceSubscribeRequest struct {
	serviceKey
}

// InstanceUnsubscribeRequest drops a service-instance subscription.
type InstanceUnsubscribeRequest struct {
	serviceKey
}

// ServiceInstancesChanged is pushed to every connection subscribed to a
// service whose instance set changed.
type ServiceInstancesChanged struct {
	serviceKey
	Instances []*types.Instance `json:"instances"`
}

// LockAcquireRequest attempts to take a TTL lock.
type LockAcquireRequest struct {
	Key       string `json:"key"`
	Owner     string `json:"owner"`
	TTLMillis int64  `json:"ttlMillis"`
	Renewable bool   `json:"renewable"`
}

// LockAcquireResponse reports the outcome.
type LockAcquireResponse struct {
	Acquired     bool   `json:"acquired"`
	CurrentOwner string `json:"currentOwner,omitempty"`
}

// LockReleaseRequest releases a held lock.
type LockReleaseRequest struct {
	Key   string `json:"key"`
	Owner string `json:"owner"`
}

// LockRenewRequest extends a held lock's TTL.
type LockRenewRequest struct {
	Key       string `json:"key"`
	Owner     string `json:"owner"`
	TTLMillis int64  `json:"ttlMillis"`
}

// SessionCreateRequest starts a new TTL session.
type SessionCreateRequest struct {
	TTLMillis int64  `json:"ttlMillis"`
	Behavior  string `json:"behavior"`
}

// SessionDestroyRequest ends a session immediately.
type SessionDestroyRequest struct {
	ID string `json:"id"`
}

// SessionRenewRequest extends a session's TTL.
type SessionRenewRequest struct {
	ID        string `json:"id"`
	TTLMillis int64  `json:"ttlMillis"`
}

// SessionInfoRequest reads a session's current state.
type SessionInfoRequest struct {
	ID string `json:"id"`
}

// SessionAssociateKeyRequest binds key to session ID's expiry behavior.
type SessionAssociateKeyRequest struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// SessionDisassociateKeyRequest unbinds key from session ID.
type SessionDisassociateKeyRequest struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// DistroSyncRequest is the cluster-internal push half of AP convergence.
type DistroSyncRequest struct {
	Items []*types.DistroItem `json:"items"`
}

// DistroVerifyRequest carries a peer's owned-key digest.
type DistroVerifyRequest struct {
	Digest map[string]uint64 `json:"digest"`
}

// DistroVerifyResponse lists the keys the answering node lags on, which
// the caller then pushes with a Sync.
type DistroVerifyResponse struct {
	Stale []string `json:"stale"`
}

// DistroSnapshotResponse is a peer's full local item set.
type DistroSnapshotResponse struct {
	Items []*types.DistroItem `json:"items"`
}

// ClusterJoinTokenRequest asks the dialed node to mint a join token for
// role ("voter" or "nonvoter").
type ClusterJoinTokenRequest struct {
	Role string `json:"role"`
}

// ClusterJoinTokenResponse carries the minted token and its expiry.
type ClusterJoinTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ClusterJoinRequest asks the dialed node (which must be the current
// Raft leader) to add nodeID at address as a voter, authorized by a
// token minted by ClusterJoinToken.
type ClusterJoinRequest struct {
	NodeID  string `json:"nodeId"`
	Address string `json:"address"`
	Token   string `json:"token"`
}

// ClusterInfoRequest has no fields; it asks the dialed node for its view
// of the Raft configuration.
type ClusterInfoRequest struct{}

// ClusterServer is one entry of the Raft configuration.
type ClusterServer struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Suffrage string `json:"suffrage"`
}

// ClusterInfoResponse lists the Raft cluster's current servers.
type ClusterInfoResponse struct {
	Servers []ClusterServer `json:"servers"`
}

// clientIdentityOf builds a configstore.ClientIdentity from a
// ConfigGetRequest's presented caller metadata.
func clientIdentityOf(req *ConfigGetRequest) configstore.ClientIdentity {
	return configstore.ClientIdentity{IP: req.ClientIP, ClientID: req.ClientID, Tags: req.Tags}
}
