package resource

import "time"

// ConditionStatus is the truth value of a condition.
type ConditionStatus string

const (
	ConditionTrue    ConditionStatus = "True"
	ConditionFalse   ConditionStatus = "False"
	ConditionUnknown ConditionStatus = "Unknown"
)

// Condition records a single structured observation about a resource.
// Conditions form the audit trail the framework keeps on the resource
// itself, independent of process logs.
type Condition struct {
	Type               string          `json:"type"`
	Status             ConditionStatus `json:"status"`
	Reason             string          `json:"reason,omitempty"`
	Message            string          `json:"message,omitempty"`
	LastTransitionTime time.Time       `json:"lastTransitionTime,omitempty"`
}

// SetCondition upserts a condition by Type. LastTransitionTime is bumped
// only when the condition's Status actually changes, so a condition that is
// re-asserted with the same status keeps its original transition time.
func (s *Status) SetCondition(cond Condition) {
	if cond.LastTransitionTime.IsZero() {
		cond.LastTransitionTime = time.Now()
	}
	for i, existing := range s.Conditions {
		if existing.Type != cond.Type {
			continue
		}
		if existing.Status == cond.Status {
			cond.LastTransitionTime = existing.LastTransitionTime
		}
		s.Conditions[i] = cond
		return
	}
	s.Conditions = append(s.Conditions, cond)
}

// GetCondition returns the condition with the given type, or nil.
func (s *Status) GetCondition(condType string) *Condition {
	for i := range s.Conditions {
		if s.Conditions[i].Type == condType {
			return &s.Conditions[i]
		}
	}
	return nil
}

// IsConditionTrue reports whether the named condition exists and is True.
func (s *Status) IsConditionTrue(condType string) bool {
	c := s.GetCondition(condType)
	return c != nil && c.Status == ConditionTrue
}
