// Package types holds the data model shared across Concord's subsystems:
// cluster membership, the replicated log's command envelope, AP distro
// items, configuration items and history, services and instances, and the
// connection/lock/session primitives.
package types

import (
	"net"
	"strconv"
	"time"
)

// --- Cluster membership (§3 Cluster Member) ---

// MemberState is a cluster member's position in its failure-detection
// state machine.
type MemberState string

const (
	MemberStarting   MemberState = "starting"
	MemberUp         MemberState = "up"
	MemberSuspicious MemberState = "suspicious"
	MemberDown       MemberState = "down"
	MemberIsolated   MemberState = "isolated"
)

// Locality is the nested datacenter/region/zone label used by the
// Datacenter Planner, broadest to narrowest, plus a planner weight.
type Locality struct {
	Datacenter string
	Region     string
	Zone       string
	Weight     float64 // higher is preferred within a datacenter
	LatencyMS  float64 // stated latency to this member, used for cross-DC tie-breaks
}

// Member is a cluster node tracked by the Member Registry.
type Member struct {
	ID       string
	Host     string
	Port     int
	State    MemberState
	Locality Locality

	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastHeartbeat        time.Time
	JoinedAt             time.Time
}

// Address returns the member's dial address.
func (m *Member) Address() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// --- Replicated log command envelope (§4.1) ---

// Command is the unit of work proposed to the replicated log. Op names the
// deterministic state-machine transition; Data is its JSON-encoded payload.
type Command struct {
	Op   string `json:"op"`
	Data []byte `json:"data"`
}

// --- Eventual-replication (AP) distro item (§3 Distro Item) ---

// DistroItem is an opaque AP-replicated key/value with an owner-minted
// monotonic version. Content is kept as a string (rather than []byte) so
// registered instance/JSON payloads round-trip through the same value
// without a copy at every store boundary.
type DistroItem struct {
	Key         string
	Content     string
	Version     uint64
	Origin      string // owning node id at time of write
	IsEphemeral bool
	Tombstone   bool
	UpdatedAt   time.Time
}

// Supersedes reports whether this item should replace other: a higher
// version always wins.
func (d *DistroItem) Supersedes(other *DistroItem) bool {
	if other == nil {
		return true
	}
	return d.Version > other.Version
}

// --- Configuration item (§3 Configuration Item) ---

// ConfigID is the three-level identity of a configuration item.
type ConfigID struct {
	Namespace string
	Group     string
	DataID    string
}

// String renders the identity as a stable composite key.
func (c ConfigID) String() string {
	return c.Namespace + "/" + c.Group + "/" + c.DataID
}

// GrayRuleKind enumerates the supported gray-release rule shapes.
type GrayRuleKind string

const (
	GrayRuleIPSet      GrayRuleKind = "ip_set"
	GrayRuleCIDR       GrayRuleKind = "cidr"
	GrayRulePercentage GrayRuleKind = "percentage"
	GrayRuleTag        GrayRuleKind = "tag"
)

// GrayRule selects which clients receive gray content instead of main
// content. A config item carries at most one.
type GrayRule struct {
	Kind       GrayRuleKind
	IPs        []string // GrayRuleIPSet
	CIDR       string   // GrayRuleCIDR
	Percentage int      // GrayRulePercentage, 0-100
	TagKey     string   // GrayRuleTag
	TagValue   string   // GrayRuleTag
	Content    []byte   // the gray content itself
}

// ConfigItem is a published configuration identified by (namespace, group,
// data-id).
type ConfigItem struct {
	ID           ConfigID
	Content      []byte
	ContentType  string
	MD5          string
	Gray         *GrayRule
	Tags         []string
	Application  string
	Description  string
	CreatedAt    time.Time
	ModifiedAt   time.Time
	LastModifier string
}

// HistoryOp enumerates the kinds of mutation recorded in a History Entry.
type HistoryOp string

const (
	HistoryPublish  HistoryOp = "publish"
	HistoryUpdate   HistoryOp = "update"
	HistoryDelete   HistoryOp = "delete"
	HistoryRollback HistoryOp = "rollback"
)

// HistoryEntry is an append-only snapshot of a configuration mutation.
type HistoryEntry struct {
	ID        ConfigID
	Version   uint64
	Content   []byte
	Op        HistoryOp
	Timestamp time.Time
	Actor     string
}

// --- Service discovery (§3 Service, Instance) ---

// ServiceID is the three-level identity of a service.
type ServiceID struct {
	Namespace string
	Group     string
	Name      string
}

func (s ServiceID) String() string {
	return s.Namespace + "/" + s.Group + "/" + s.Name
}

// Service groups instances under clusters and carries protection-threshold
// configuration.
type Service struct {
	ID                  ServiceID
	ProtectionThreshold float64 // 0..1; below this ratio all instances are returned
	Selector            map[string]string
	Metadata            map[string]string
}

// Instance is a single service endpoint, identified by
// (service, ip, port, cluster).
type Instance struct {
	Service   ServiceID
	Cluster   string
	IP        string
	Port      int
	Weight    float64
	Enabled   bool
	Healthy   bool
	Ephemeral bool
	Metadata  map[string]string
	LastBeat  time.Time // ephemeral heartbeat timestamp
}

// InstanceKey is the deterministic identity string used as the AP/CP key.
func (i *Instance) InstanceKey() string {
	return i.Service.String() + "/" + i.Cluster + "/" + i.IP + ":" + strconv.Itoa(i.Port)
}

// --- Connection (§3 Connection) ---

// Connection is a live bidirectional-stream client, identified by
// "{epoch}_{remote-ip}_{remote-port}".
type Connection struct {
	ID         string
	Labels     map[string]string
	Version    string
	Namespace  string
	RemoteIP   string
	RemotePort int
}

// --- Distributed lock and session (§3 Lock, Session) ---

// Lock is a TTL-based mutual-exclusion primitive.
type Lock struct {
	Key        string
	Owner      string
	AcquiredAt time.Time
	TTL        time.Duration
	Renewable  bool
}

// Expired reports whether the lock's TTL has elapsed as of now.
func (l *Lock) Expired(now time.Time) bool {
	if l == nil {
		return true
	}
	return now.After(l.AcquiredAt.Add(l.TTL))
}

// SessionBehavior controls what happens to a session's associated keys on
// expiry.
type SessionBehavior string

const (
	SessionRelease SessionBehavior = "release"
	SessionDelete  SessionBehavior = "delete"
)

// Session is a client-scoped TTL context backing session-acquired locks.
type Session struct {
	ID        string
	TTL       time.Duration
	Node      string
	Behavior  SessionBehavior
	CreatedAt time.Time
	RenewedAt time.Time
	Keys      []string // keys currently associated via ?acquire=session
}

// Expired reports whether the session's TTL has elapsed since its last
// renewal.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return now.After(s.RenewedAt.Add(s.TTL))
}
