package config

// GroupPolicy serves groups on the allow list (every group when it is empty)
// unless they are on the deny list.
type GroupPolicy struct {
	allow map[string]struct{}
	deny  map[string]struct{}
}

func NewGroupPolicy(allowed, denied []string) GroupPolicy {
	return GroupPolicy{allow: set(allowed), deny: set(denied)}
}

func (p GroupPolicy) Allowed(groupID string) bool {
	if _, ok := p.deny[groupID]; ok {
		return false
	}
	if len(p.allow) == 0 {
		return true
	}
	_, ok := p.allow[groupID]
	return ok
}

func set(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
