package transport

import (
	"encoding/json"
	"strings"

	"github.com/concordkv/concord/pkg/events"
	"github.com/concordkv/concord/pkg/subscriber"
	"github.com/concordkv/concord/pkg/types"
)

// Notifier bridges pkg/events to the Connection Registry: it subscribes
// to the broker every state mutation publishes to, and turns each event
// into pushes on whichever connections the Subscriber/Watcher Index (for
// config keys) or the Connection Registry's service subscriptions (for
// instances) say care about it. It never touches the config store or
// instance registry directly; everything it needs rides on the event's
// Metadata.
type Notifier struct {
	broker *events.Broker
	index  *subscriber.Index
	conns  *ConnectionRegistry
	md5    subscriber.MD5Source
	sub    events.Subscriber
	stop   chan struct{}
}

// NewNotifier creates a Notifier. Call Start to begin delivering pushes.
func NewNotifier(broker *events.Broker, index *subscriber.Index, conns *ConnectionRegistry, md5 subscriber.MD5Source) *Notifier {
	return &Notifier{broker: broker, index: index, conns: conns, md5: md5, stop: make(chan struct{})}
}

// Start begins the notifier's delivery loop in its own goroutine.
func (n *Notifier) Start() {
	n.sub = n.broker.Subscribe()
	go n.run()
}

// Stop halts delivery and unsubscribes from the broker.
func (n *Notifier) Stop() {
	close(n.stop)
	n.broker.Unsubscribe(n.sub)
}

func (n *Notifier) run() {
	for {
		select {
		case ev, ok := <-n.sub:
			if !ok {
				return
			}
			n.handle(ev)
		case <-n.stop:
			return
		}
	}
}

func (n *Notifier) handle(ev *events.Event) {
	switch ev.Type {
	case events.EventConfigPublished, events.EventConfigRemoved, events.EventConfigRolledBack:
		n.notifyConfigChange(ev)
	case events.EventInstanceRegistered, events.EventInstanceDeregistered, events.EventInstanceHealthChanged:
		n.notifyInstanceChange(ev)
	}
}

func (n *Notifier) notifyConfigChange(ev *events.Event) {
	key := ev.Metadata["key"]
	if key == "" {
		return
	}

	md5 := ""
	if n.md5 != nil {
		md5, _ = n.md5.MD5For(key)
	}

	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 {
		return
	}
	body := &ConfigChangeNotify{
		configKey: configKey{Namespace: parts[0], Group: parts[1], DataID: parts[2]},
		MD5:       md5,
	}

	targets := make(map[string]bool)
	for _, connID := range n.index.SubscribersFor(key) {
		targets[connID] = true
	}
	for _, connID := range n.index.WatchersFor(key) {
		targets[connID] = true
	}
	for connID := range targets {
		n.conns.Push(connID, &Envelope{Type: TypeConfigChangeNotify, Body: mustMarshal(body)})
	}
}

func (n *Notifier) notifyInstanceChange(ev *events.Event) {
	serviceStr := ev.Metadata["service"]
	if serviceStr == "" {
		return
	}
	id, ok := parseServiceID(serviceStr)
	if !ok {
		return
	}

	body := &ServiceInstancesChanged{serviceKey: serviceKey{Namespace: id.Namespace, Group: id.Group, Name: id.Name}}
	for _, connID := range n.conns.ConnectionsSubscribedToService(id) {
		n.conns.Push(connID, &Envelope{Type: TypeServiceInstancesChanged, Body: mustMarshal(body)})
	}
}

// parseServiceID reverses types.ServiceID.String()'s "namespace/group/name"
// format.
func parseServiceID(s string) (types.ServiceID, bool) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 {
		return types.ServiceID{}, false
	}
	return types.ServiceID{Namespace: parts[0], Group: parts[1], Name: parts[2]}, true
}

// mustMarshal is only used for push payloads this package itself
// constructs, never client input, so a marshal failure here means a bug
// in one of the types above rather than bad data.
func mustMarshal(v interface{}) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return body
}
