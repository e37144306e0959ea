package transport

import (
	"time"

	"github.com/concordkv/concord/pkg/authgate"
	"github.com/concordkv/concord/pkg/configstore"
	"github.com/concordkv/concord/pkg/consensus"
	"github.com/concordkv/concord/pkg/distro"
	"github.com/concordkv/concord/pkg/lock"
	"github.com/concordkv/concord/pkg/registry"
	"github.com/concordkv/concord/pkg/subscriber"
	"github.com/concordkv/concord/pkg/types"
)

// Handlers owns one HandlerFunc per envelope Type, closing over the data
// planes they wrap. RegisterAll installs every one of them on a
// Dispatcher with its declared auth tier.
type Handlers struct {
	Config    *configstore.Store
	Instances *registry.Registry
	Locks     *lock.Manager
	Distro    *distro.Distro
	Index     *subscriber.Index
	Conns     *ConnectionRegistry
	Cluster   *consensus.Manager
}

var (
	reqNone   = authgate.Requirement{Kind: authgate.RequirementNone}
	reqAuth   = authgate.Requirement{Kind: authgate.RequirementAuthenticated}
	reqIntern = authgate.Requirement{Kind: authgate.RequirementInternal}
)

func reqPerm(resource, action string) authgate.Requirement {
	return authgate.Requirement{Kind: authgate.RequirementPermission, Resource: resource, Action: action}
}

// RegisterAll installs every handler onto d.
func (h *Handlers) RegisterAll(d *Dispatcher) {
	d.Register(TypeConnectionSetup, reqNone, h.connectionSetup)
	d.Register(TypeBatchListen, reqAuth, h.batchListen)

	d.Register(TypeConfigGet, reqAuth, h.configGet)
	d.Register(TypeConfigPublish, reqPerm("config", "write"), h.configPublish)
	d.Register(TypeConfigRemove, reqPerm("config", "write"), h.configRemove)
	d.Register(TypeConfigRollback, reqPerm("config", "write"), h.configRollback)
	d.Register(TypeConfigPublishGray, reqPerm("config", "write"), h.configPublishGray)
	d.Register(TypeConfigList, reqAuth, h.configList)
	d.Register(TypeConfigSearchFuzzy, reqAuth, h.configSearchFuzzy)
	d.Register(TypeConfigSubscribe, reqAuth, h.configSubscribe)
	d.Register(TypeConfigUnsubscribe, reqAuth, h.configUnsubscribe)
	d.Register(TypeConfigWatch, reqAuth, h.configWatch)
	d.Register(TypeConfigUnwatch, reqAuth, h.configUnwatch)

	d.Register(TypeInstanceRegister, reqAuth, h.instanceRegister)
	d.Register(TypeInstanceDeregister, reqAuth, h.instanceDeregister)
	d.Register(TypeInstanceHeartbeat, reqAuth, h.instanceHeartbeat)
	d.Register(TypeInstanceList, reqNone, h.instanceList)
	d.Register(TypeInstanceSubscribe, reqAuth, h.instanceSubscribe)
	d.Register(TypeInstanceUnsubscribe, reqAuth, h.instanceUnsubscribe)

	d.Register(TypeLockAcquire, reqAuth, h.lockAcquire)
	d.Register(TypeLockRelease, reqAuth, h.lockRelease)
	d.Register(TypeLockRenew, reqAuth, h.lockRenew)

	d.Register(TypeSessionCreate, reqAuth, h.sessionCreate)
	d.Register(TypeSessionDestroy, reqAuth, h.sessionDestroy)
	d.Register(TypeSessionRenew, reqAuth, h.sessionRenew)
	d.Register(TypeSessionInfo, reqAuth, h.sessionInfo)
	d.Register(TypeSessionAssociateKey, reqAuth, h.sessionAssociateKey)
	d.Register(TypeSessionDisassociateKey, reqAuth, h.sessionDisassociateKey)

	d.Register(TypeDistroSync, reqIntern, h.distroSync)
	d.Register(TypeDistroVerify, reqIntern, h.distroVerify)
	d.Register(TypeDistroSnapshot, reqIntern, h.distroSnapshot)

	d.Register(TypeClusterJoinToken, reqIntern, h.clusterJoinToken)
	d.Register(TypeClusterJoin, reqIntern, h.clusterJoin)
	d.Register(TypeClusterInfo, reqIntern, h.clusterInfo)
}

// connectionSetup is the handshake every stream must complete before any
// other request is accepted; handleStream in server.go enforces that
// ordering, so by the time this runs rc.Conn is already registered.
func (h *Handlers) connectionSetup(rc *RequestContext, body []byte) (interface{}, error) {
	if _, err := decodeBody[ConnectionSetupRequest](body); err != nil {
		return nil, err
	}
	return &ConnectionSetupResponse{ConnectionID: rc.Conn.Identity.ID}, nil
}

func (h *Handlers) batchListen(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[BatchListenRequest](body)
	if err != nil {
		return nil, err
	}
	stale := h.Index.BatchListen(rc.Conn.Identity.ID, req.Entries, h.Config)
	return &BatchListenResponse{Stale: stale}, nil
}

func (h *Handlers) configGet(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ConfigGetRequest](body)
	if err != nil {
		return nil, err
	}
	item, content, err := h.Config.Get(req.id(), clientIdentityOf(req))
	if err != nil {
		return nil, err
	}
	return &ConfigGetResponse{Content: content, ContentType: item.ContentType, MD5: item.MD5}, nil
}

func (h *Handlers) configPublish(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ConfigPublishRequest](body)
	if err != nil {
		return nil, err
	}
	actor := actorOf(rc)
	item, err := h.Config.Publish(req.id(), req.Content, req.ContentType, actor, req.Tags, req.Application, req.Description)
	if err != nil {
		return nil, err
	}
	return configKeyOf(item.ID), nil
}

func (h *Handlers) configRemove(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ConfigRemoveRequest](body)
	if err != nil {
		return nil, err
	}
	return nil, h.Config.Remove(req.id(), actorOf(rc))
}

func (h *Handlers) configRollback(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ConfigRollbackRequest](body)
	if err != nil {
		return nil, err
	}
	item, err := h.Config.Rollback(req.id(), req.Version, actorOf(rc))
	if err != nil {
		return nil, err
	}
	return configKeyOf(item.ID), nil
}

func (h *Handlers) configPublishGray(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ConfigPublishGrayRequest](body)
	if err != nil {
		return nil, err
	}
	item, err := h.Config.PublishGray(req.id(), req.Rule, actorOf(rc))
	if err != nil {
		return nil, err
	}
	return configKeyOf(item.ID), nil
}

func (h *Handlers) configList(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ConfigListRequest](body)
	if err != nil {
		return nil, err
	}
	filter := configstore.ListFilter{
		Namespace:   req.Namespace,
		Group:       req.Group,
		Tag:         req.Tag,
		Application: req.Application,
		ContentGlob: req.ContentGlob,
	}
	items, total, err := h.Config.List(filter, req.Page, req.PageSize)
	if err != nil {
		return nil, err
	}
	return &ConfigListResponse{Items: items, Total: total}, nil
}

func (h *Handlers) configSearchFuzzy(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ConfigSearchFuzzyRequest](body)
	if err != nil {
		return nil, err
	}
	items, err := h.Config.SearchFuzzy(req.Pattern)
	if err != nil {
		return nil, err
	}
	return &ConfigSearchFuzzyResponse{Items: items}, nil
}

func (h *Handlers) configSubscribe(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ConfigSubscribeRequest](body)
	if err != nil {
		return nil, err
	}
	h.Index.Subscribe(rc.Conn.Identity.ID, req.id().String())
	return nil, nil
}

func (h *Handlers) configUnsubscribe(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ConfigUnsubscribeRequest](body)
	if err != nil {
		return nil, err
	}
	h.Index.Unsubscribe(rc.Conn.Identity.ID, req.id().String())
	return nil, nil
}

func (h *Handlers) configWatch(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ConfigWatchRequest](body)
	if err != nil {
		return nil, err
	}
	h.Index.Watch(rc.Conn.Identity.ID, req.Pattern)
	return nil, nil
}

func (h *Handlers) configUnwatch(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[ConfigUnwatchRequest](body)
	if err != nil {
		return nil, err
	}
	h.Index.Unwatch(rc.Conn.Identity.ID, req.Pattern)
	return nil, nil
}

func (h *Handlers) instanceRegister(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[InstanceRegisterRequest](body)
	if err != nil {
		return nil, err
	}
	return nil, h.Instances.Register(req.instance())
}

func (h *Handlers) instanceDeregister(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[InstanceDeregisterRequest](body)
	if err != nil {
		return nil, err
	}
	return nil, h.Instances.Deregister(req.instance())
}

func (h *Handlers) instanceHeartbeat(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[InstanceHeartbeatRequest](body)
	if err != nil {
		return nil, err
	}
	h.Instances.Heartbeat(req.instance())
	return nil, nil
}

func (h *Handlers) instanceList(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[InstanceListRequest](body)
	if err != nil {
		return nil, err
	}
	instances, err := h.Instances.ListInstances(req.id(), req.Cluster)
	if err != nil {
		return nil, err
	}
	return &InstanceListResponse{Instances: instances}, nil
}

func (h *Handlers) instanceSubscribe(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[InstanceSubscribeRequest](body)
	if err != nil {
		return nil, err
	}
	rc.Conn.SubscribeService(req.id())
	return nil, nil
}

func (h *Handlers) instanceUnsubscribe(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[InstanceUnsubscribeRequest](body)
	if err != nil {
		return nil, err
	}
	rc.Conn.UnsubscribeService(req.id())
	return nil, nil
}

func (h *Handlers) lockAcquire(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[LockAcquireRequest](body)
	if err != nil {
		return nil, err
	}
	res, err := h.Locks.Acquire(req.Key, req.Owner, time.Duration(req.TTLMillis)*time.Millisecond, req.Renewable)
	if err != nil {
		return nil, err
	}
	return &LockAcquireResponse{Acquired: res.Acquired, CurrentOwner: res.CurrentOwner}, nil
}

func (h *Handlers) lockRelease(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[LockReleaseRequest](body)
	if err != nil {
		return nil, err
	}
	return nil, h.Locks.Release(req.Key, req.Owner)
}

func (h *Handlers) lockRenew(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[LockRenewRequest](body)
	if err != nil {
		return nil, err
	}
	return nil, h.Locks.Renew(req.Key, req.Owner, time.Duration(req.TTLMillis)*time.Millisecond)
}

func (h *Handlers) sessionCreate(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[SessionCreateRequest](body)
	if err != nil {
		return nil, err
	}
	behavior := types.SessionBehavior(req.Behavior)
	if behavior == "" {
		behavior = types.SessionRelease
	}
	return h.Locks.CreateSession(time.Duration(req.TTLMillis)*time.Millisecond, behavior)
}

func (h *Handlers) sessionDestroy(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[SessionDestroyRequest](body)
	if err != nil {
		return nil, err
	}
	return nil, h.Locks.Destroy(req.ID)
}

func (h *Handlers) sessionRenew(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[SessionRenewRequest](body)
	if err != nil {
		return nil, err
	}
	return h.Locks.RenewSession(req.ID, time.Duration(req.TTLMillis)*time.Millisecond)
}

func (h *Handlers) sessionInfo(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[SessionInfoRequest](body)
	if err != nil {
		return nil, err
	}
	return h.Locks.Info(req.ID)
}

func (h *Handlers) sessionAssociateKey(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[SessionAssociateKeyRequest](body)
	if err != nil {
		return nil, err
	}
	return nil, h.Locks.AssociateKey(req.ID, req.Key)
}

func (h *Handlers) sessionDisassociateKey(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[SessionDisassociateKeyRequest](body)
	if err != nil {
		return nil, err
	}
	return nil, h.Locks.DisassociateKey(req.ID, req.Key)
}

func (h *Handlers) distroSync(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[DistroSyncRequest](body)
	if err != nil {
		return nil, err
	}
	h.Distro.HandleSync(req.Items)
	return nil, nil
}

func (h *Handlers) distroVerify(rc *RequestContext, body []byte) (interface{}, error) {
	req, err := decodeBody[DistroVerifyRequest](body)
	if err != nil {
		return nil, err
	}
	return &DistroVerifyResponse{Stale: h.Distro.HandleVerify(req.Digest)}, nil
}

func (h *Handlers) distroSnapshot(rc *RequestContext, body []byte) (interface{}, error) {
	return &DistroSnapshotResponse{Items: h.Distro.HandleSnapshot()}, nil
}

func actorOf(rc *RequestContext) string {
	if rc.Identity == nil || rc.Identity.Subject == "" {
		return "unknown"
	}
	return rc.Identity.Subject
}
