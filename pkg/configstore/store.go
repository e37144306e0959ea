package configstore

import (
	"crypto/md5"
	"encoding/hex"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/concordkv/concord/pkg/clog"
	"github.com/concordkv/concord/pkg/consensus"
	"github.com/concordkv/concord/pkg/events"
	"github.com/concordkv/concord/pkg/metrics"
	"github.com/concordkv/concord/pkg/types"
)

const defaultMaxContentSize = 10 * 1024 * 1024 // 10MB, Nacos' own default ceiling

// Store is the Config Store: publish/get/remove/rollback/list over
// configuration items, backed by the replicated log for writes and its
// durable store for reads.
type Store struct {
	manager        *consensus.Manager
	broker         *events.Broker
	maxContentSize int
	historyKeep    int
}

// Option configures a Store at construction.
type Option func(*Store)

// WithMaxContentSize overrides the default 10MB publish ceiling.
func WithMaxContentSize(n int) Option {
	return func(s *Store) { s.maxContentSize = n }
}

// WithHistoryRetention sets how many history entries per item are kept
// after compaction; zero disables automatic compaction.
func WithHistoryRetention(n int) Option {
	return func(s *Store) { s.historyKeep = n }
}

// NewStore creates a Config Store over manager's replicated log.
func NewStore(manager *consensus.Manager, broker *events.Broker, opts ...Option) *Store {
	s := &Store{manager: manager, broker: broker, maxContentSize: defaultMaxContentSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func md5Hex(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

// Get reads a configuration item and resolves gray-release content for
// the given client identity. An absent item is reported as a
// KindNotFound error.
func (s *Store) Get(id types.ConfigID, who ClientIdentity) (*types.ConfigItem, []byte, error) {
	item, err := s.manager.Store().GetConfig(id)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, types.NewError(types.KindNotFound, "config %s not found", id)
	}
	return item, resolve(item, who), nil
}

// Publish validates size, stamps md5, and persists through the replicated
// log. A publish whose content is byte-identical to the current item
// (same md5) is a no-op: no new history entry, modified-at unchanged.
func (s *Store) Publish(id types.ConfigID, content []byte, contentType, actor string, tags []string, application, description string) (*types.ConfigItem, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ConfigPublishDuration)

	if len(content) > s.maxContentSize {
		return nil, errContentTooLarge(len(content), s.maxContentSize)
	}

	sum := md5Hex(content)
	existing, _ := s.manager.Store().GetConfig(id)
	if existing != nil && existing.MD5 == sum {
		return existing, nil
	}

	now := time.Now()
	op := types.HistoryPublish
	if existing != nil {
		op = types.HistoryUpdate
	}

	item := &types.ConfigItem{
		ID:           id,
		Content:      content,
		ContentType:  contentType,
		MD5:          sum,
		Tags:         tags,
		Application:  application,
		Description:  description,
		ModifiedAt:   now,
		LastModifier: actor,
	}
	if existing != nil {
		item.CreatedAt = existing.CreatedAt
		item.Gray = existing.Gray
	} else {
		item.CreatedAt = now
	}

	nextVersion := uint64(now.UnixNano())
	history := &types.HistoryEntry{
		ID:        id,
		Version:   nextVersion,
		Content:   content,
		Op:        op,
		Timestamp: now,
		Actor:     actor,
	}

	if err := s.manager.Apply(consensus.OpPutConfig, putConfigArgs{Item: item, History: history}); err != nil {
		return nil, err
	}

	if s.historyKeep > 0 {
		_ = s.manager.Apply(consensus.OpCompactHistory, compactHistoryArgs{ID: id, Keep: s.historyKeep})
	}

	s.publish(events.EventConfigPublished, id)
	return item, nil
}

// putConfigArgs mirrors pkg/consensus's unexported FSM argument shape so
// Apply's JSON payload matches what fsm.go expects to unmarshal.
type putConfigArgs struct {
	Item    *types.ConfigItem   `json:"item"`
	History *types.HistoryEntry `json:"history"`
}

type compactHistoryArgs struct {
	ID   types.ConfigID `json:"id"`
	Keep int            `json:"keep"`
}

// Remove deletes the current item and appends a tombstone history entry.
func (s *Store) Remove(id types.ConfigID, actor string) error {
	existing, err := s.manager.Store().GetConfig(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return types.NewError(types.KindNotFound, "config %s not found", id)
	}

	if err := s.manager.Apply(consensus.OpDeleteConfig, id); err != nil {
		return err
	}

	history := &types.HistoryEntry{
		ID:        id,
		Version:   uint64(time.Now().UnixNano()),
		Content:   nil,
		Op:        types.HistoryDelete,
		Timestamp: time.Now(),
		Actor:     actor,
	}
	_ = s.manager.Apply(consensus.OpAppendHistory, history)

	s.publish(events.EventConfigRemoved, id)
	return nil
}

// Rollback re-publishes an old history snapshot as a new publish, so
// subscriber notifications flow through the normal publish path instead
// of being reverse-engineered from history.
func (s *Store) Rollback(id types.ConfigID, version uint64, actor string) (*types.ConfigItem, error) {
	entries, err := s.manager.Store().ListHistory(id)
	if err != nil {
		return nil, err
	}

	var target *types.HistoryEntry
	for _, e := range entries {
		if e.Version == version {
			target = e
			break
		}
	}
	if target == nil {
		return nil, types.NewError(types.KindNotFound, "history version %d not found for %s", version, id)
	}

	current, err := s.manager.Store().GetConfig(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, types.NewError(types.KindNotFound, "config %s not found", id)
	}

	now := time.Now()
	item := *current
	item.Content = target.Content
	item.MD5 = md5Hex(target.Content)
	item.ModifiedAt = now
	item.LastModifier = actor

	history := &types.HistoryEntry{
		ID:        id,
		Version:   uint64(now.UnixNano()),
		Content:   target.Content,
		Op:        types.HistoryRollback,
		Timestamp: now,
		Actor:     actor,
	}

	if err := s.manager.Apply(consensus.OpPutConfig, putConfigArgs{Item: &item, History: history}); err != nil {
		return nil, err
	}

	s.publish(events.EventConfigRolledBack, id)
	return &item, nil
}

// PublishGray attaches a gray-release rule to an existing item. Reads
// resolve against the rule via resolve() in gray.go.
func (s *Store) PublishGray(id types.ConfigID, rule *types.GrayRule, actor string) (*types.ConfigItem, error) {
	current, err := s.manager.Store().GetConfig(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, types.NewError(types.KindNotFound, "config %s not found", id)
	}

	item := *current
	item.Gray = rule
	item.ModifiedAt = time.Now()
	item.LastModifier = actor

	history := &types.HistoryEntry{
		ID:        id,
		Version:   uint64(time.Now().UnixNano()),
		Content:   current.Content,
		Op:        types.HistoryUpdate,
		Timestamp: time.Now(),
		Actor:     actor,
	}
	if err := s.manager.Apply(consensus.OpPutConfig, putConfigArgs{Item: &item, History: history}); err != nil {
		return nil, err
	}

	s.publish(events.EventConfigPublished, id)
	return &item, nil
}

// ListFilter narrows a List call by namespace/group plus optional tag,
// application, and content-glob filters.
type ListFilter struct {
	Namespace   string
	Group       string
	Tag         string
	Application string
	ContentGlob string
}

// List returns items matching filter, paginated at page (1-based) with
// the given page size.
func (s *Store) List(filter ListFilter, page, pageSize int) ([]*types.ConfigItem, int, error) {
	all, err := s.manager.Store().ListConfigs(filter.Namespace, filter.Group)
	if err != nil {
		return nil, 0, err
	}

	var matched []*types.ConfigItem
	for _, item := range all {
		if filter.Application != "" && item.Application != filter.Application {
			continue
		}
		if filter.Tag != "" && !hasTag(item.Tags, filter.Tag) {
			continue
		}
		if filter.ContentGlob != "" {
			ok, err := path.Match(filter.ContentGlob, string(item.Content))
			if err != nil || !ok {
				continue
			}
		}
		matched = append(matched, item)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID.String() < matched[j].ID.String() })

	total := len(matched)
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = total
	}
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SearchFuzzy returns every item whose (namespace/group/data-id) matches
// a glob pattern against the composite key.
func (s *Store) SearchFuzzy(pattern string) ([]*types.ConfigItem, error) {
	all, err := s.manager.Store().ListConfigs("", "")
	if err != nil {
		return nil, err
	}

	var out []*types.ConfigItem
	for _, item := range all {
		if ok, _ := path.Match(pattern, item.ID.String()); ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// History returns the append-only mutation history for id.
func (s *Store) History(id types.ConfigID) ([]*types.HistoryEntry, error) {
	return s.manager.Store().ListHistory(id)
}

// MD5For implements pkg/subscriber's MD5Source: it resolves the current
// server-side md5 for a flat "namespace/group/dataId" key, the form
// BatchListen receives from a reconnecting client's local cache.
func (s *Store) MD5For(key string) (string, bool) {
	item, err := s.manager.Store().GetConfig(parseKVKey(key))
	if err != nil || item == nil {
		return "", false
	}
	return item.MD5, true
}

// CountConfigItems implements metrics.ConfigSource.
func (s *Store) CountConfigItems() int {
	n, err := s.manager.Store().CountConfigs()
	if err != nil {
		return 0
	}
	return n
}

// ExpireKey implements pkg/lock's KeyExpirer: it runs a session's expiry
// behavior against a KV key associated via "?acquire=session". A delete
// behavior removes the item outright; a release behavior leaves the item
// in place, since releasing only drops the session association.
func (s *Store) ExpireKey(key string, delete bool) error {
	if !delete {
		return nil
	}
	id := parseKVKey(key)
	if err := s.Remove(id, "session-expiry"); err != nil && types.KindOf(err) != types.KindNotFound {
		return err
	}
	return nil
}

// parseKVKey maps a flat KV key presented by the lock/session surface
// onto the three-level configuration identity the store persists under,
// defaulting namespace and group the way a bare key lookup would.
func parseKVKey(key string) types.ConfigID {
	parts := strings.SplitN(key, "/", 3)
	switch len(parts) {
	case 3:
		return types.ConfigID{Namespace: parts[0], Group: parts[1], DataID: parts[2]}
	case 2:
		return types.ConfigID{Namespace: "public", Group: parts[0], DataID: parts[1]}
	default:
		return types.ConfigID{Namespace: "public", Group: "DEFAULT", DataID: key}
	}
}

func (s *Store) publish(t events.EventType, id types.ConfigID) {
	logger := clog.WithKey(id.String())
	logger.Debug().Str("event", string(t)).Msg("config store mutation")
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:    t,
		Message: "config " + id.String(),
		Metadata: map[string]string{
			"namespace": id.Namespace,
			"group":     id.Group,
			"data_id":   id.DataID,
			"key":       id.String(),
		},
	})
}
