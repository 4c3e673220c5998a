// Package router selects a destination topic for an event by scanning an
// ordered set of routing rules, first match wins.
package router

import (
	"bytes"
	"slices"

	"github.com/hatsunemiku3939/eventgateway/model"
)

// TopicRoutings is an evaluated snapshot of routing rules.
type TopicRoutings struct {
	rules []model.TopicRoutingRule
}

// NewTopicRoutings copies and orders rules by (order asc, id asc). The
// input need not be sorted; the store may or may not pre-sort.
func NewTopicRoutings(rules []model.TopicRoutingRule) *TopicRoutings {
	ordered := slices.Clone(rules)
	slices.SortFunc(ordered, func(a, b model.TopicRoutingRule) int {
		if a.Order != b.Order {
			return int(a.Order) - int(b.Order)
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return &TopicRoutings{rules: ordered}
}

// Rules returns the ordered rule snapshot.
func (t *TopicRoutings) Rules() []model.TopicRoutingRule { return t.rules }

// Route returns the first rule matching the event, scanning in priority
// order. A rule matches when its type condition matches the event type and
// its version condition matches the event version; a rule without a version
// condition is version-agnostic, while a rule with one never matches an
// event without a version.
func (t *TopicRoutings) Route(event *model.Event) (*model.TopicRoutingRule, bool) {
	for i := range t.rules {
		rule := &t.rules[i]
		if !rule.EventTypeCondition.Matches(event.EventType) {
			continue
		}
		if !versionMatches(rule.EventVersionCondition, event.EventVersion) {
			continue
		}
		return rule, true
	}
	return nil, false
}

func versionMatches(cond *model.Condition, version *string) bool {
	if cond == nil {
		return true
	}
	if version == nil {
		return false
	}
	return cond.Matches(*version)
}
