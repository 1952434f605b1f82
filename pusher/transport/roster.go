package transport

import (
	"sort"
	"sync"
)

// roster is the presence member list kept by a transport channel.
type roster struct {
	mu      sync.RWMutex
	me      *Member
	members map[string]Member
}

func newRoster() *roster {
	return &roster{
		members: make(map[string]Member),
	}
}

func (r *roster) Me() *Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.me == nil {
		return nil
	}
	me := *r.me
	return &me
}

func (r *roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members)
}

func (r *roster) Get(id string) *Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	member, ok := r.members[id]
	if !ok {
		return nil
	}
	return &member
}

func (r *roster) Each(fn func(Member)) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	members := make([]Member, 0, len(ids))
	for _, id := range ids {
		members = append(members, r.members[id])
	}
	r.mu.RUnlock()

	for _, member := range members {
		fn(member)
	}
}

func (r *roster) setMe(me Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.me = &me
	r.members[me.ID] = me
}

func (r *roster) clearMe() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.me = nil
}

func (r *roster) add(member Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.members[member.ID]
	r.members[member.ID] = member
	return !exists
}

func (r *roster) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.members[id]
	delete(r.members, id)
	return exists
}

func (r *roster) replace(members map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members = make(map[string]Member, len(members))
	for id, info := range members {
		r.members[id] = Member{ID: id, Info: info}
	}
	if r.me != nil {
		if member, ok := r.members[r.me.ID]; ok {
			me := member
			r.me = &me
		}
	}
}

func (r *roster) snapshot() *MembersSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make(map[string]interface{}, len(r.members))
	for id, member := range r.members {
		members[id] = member.Info
	}

	var me *Member
	if r.me != nil {
		m := *r.me
		me = &m
	}

	return &MembersSnapshot{
		Me:      me,
		Count:   len(members),
		Members: members,
	}
}
