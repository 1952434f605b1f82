package pusher

import (
	"sync"

	"github.com/kleeedolinux/pusher.go/debug"
	"github.com/kleeedolinux/pusher.go/pusher/transport"

	"go.uber.org/zap"
)

// Members tracks the roster of a presence channel. The local view is
// updated on the host from the channel's roster events; Get and Each read
// the transport's roster instead.
type Members struct {
	roster transport.Members
	base   transport.Channel
	host   Host

	mu      sync.RWMutex
	me      *transport.Member
	count   int
	members map[string]interface{}
}

func NewMembers(roster transport.Members, base transport.Channel, host Host) (*Members, error) {
	if isNil(roster) {
		return nil, ErrInvalidMembers
	}
	if isNil(base) {
		return nil, ErrInvalidChannel
	}
	if isNil(host) {
		return nil, ErrNilHost
	}

	m := &Members{
		roster:  roster,
		base:    base,
		host:    host,
		members: make(map[string]interface{}),
	}

	base.Bind(transport.EventSubscriptionSucceeded, m.onHost(m.subscriptionSucceeded))
	base.Bind(transport.EventMemberAdded, m.onHost(m.memberAdded))
	base.Bind(transport.EventMemberRemoved, m.onHost(m.memberRemoved))

	m.seed()

	return m, nil
}

// seed copies an already acknowledged roster, for trackers created after
// subscription_succeeded was delivered. Roster events bound before the copy
// are applied on top of it; the duplicate and untracked guards keep the
// count right.
func (m *Members) seed() {
	me := m.roster.Me()
	if me == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.me = me
	m.members = make(map[string]interface{})
	m.roster.Each(func(member transport.Member) {
		m.members[member.ID] = member.Info
	})
	m.count = len(m.members)

	debug.Printf("Members: seeded %d member(s) on %s", m.count, m.base.Name())
}

// onHost runs apply on the host and follows every mutation with one Digest.
func (m *Members) onHost(apply func(data interface{}) bool) *transport.Callback {
	return transport.NewCallback(func(data interface{}) {
		m.host.Defer(func() {
			if apply(data) {
				m.host.Digest()
			}
		})
	})
}

func (m *Members) subscriptionSucceeded(data interface{}) bool {
	snapshot, ok := asSnapshot(data)
	if !ok {
		debug.Printf("Members: unexpected subscription payload %T on %s", data, m.base.Name())
		return false
	}

	members := make(map[string]interface{}, len(snapshot.Members))
	for id, info := range snapshot.Members {
		members[id] = info
	}

	var me *transport.Member
	if snapshot.Me != nil {
		copied := *snapshot.Me
		me = &copied
	}

	m.mu.Lock()
	m.me = me
	m.count = snapshot.Count
	m.members = members
	m.mu.Unlock()

	return true
}

func (m *Members) memberAdded(data interface{}) bool {
	member, ok := asMember(data)
	if !ok {
		debug.Printf("Members: unexpected member_added payload %T on %s", data, m.base.Name())
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A repeated add for a tracked id refreshes the info but is not
	// counted twice.
	if _, exists := m.members[member.ID]; exists {
		debug.Logger().Debug("duplicate member_added ignored for count",
			zap.String("channel", m.base.Name()),
			zap.String("member", member.ID))
		m.members[member.ID] = member.Info
		return true
	}

	m.count++
	m.members[member.ID] = member.Info
	return true
}

func (m *Members) memberRemoved(data interface{}) bool {
	member, ok := asMember(data)
	if !ok {
		debug.Printf("Members: unexpected member_removed payload %T on %s", data, m.base.Name())
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.members[member.ID]; !exists {
		debug.Printf("Members: member_removed for untracked id %s on %s", member.ID, m.base.Name())
		return false
	}

	m.count--
	delete(m.members, member.ID)
	return true
}

// Me returns the local member, or nil before the subscription succeeded.
func (m *Members) Me() *transport.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.me == nil {
		return nil
	}
	me := *m.me
	return &me
}

func (m *Members) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.count
}

// Snapshot returns a copy of the tracked id to info mapping. Members
// without info map to nil.
func (m *Members) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := make(map[string]interface{}, len(m.members))
	for id, info := range m.members {
		members[id] = info
	}
	return members
}

// Get looks id up in the transport's roster.
func (m *Members) Get(id string) *transport.Member {
	return m.roster.Get(id)
}

// Each calls fn for every member of the transport's roster, in no
// particular order, with one Digest after each call.
func (m *Members) Each(fn func(transport.Member)) {
	m.roster.Each(func(member transport.Member) {
		fn(member)
		m.host.Digest()
	})
}

func asSnapshot(data interface{}) (*transport.MembersSnapshot, bool) {
	switch v := data.(type) {
	case *transport.MembersSnapshot:
		return v, v != nil
	case transport.MembersSnapshot:
		return &v, true
	default:
		return nil, false
	}
}

func asMember(data interface{}) (transport.Member, bool) {
	switch v := data.(type) {
	case transport.Member:
		return v, v.ID != ""
	case *transport.Member:
		if v == nil {
			return transport.Member{}, false
		}
		return *v, v.ID != ""
	default:
		return transport.Member{}, false
	}
}
