package telemetry

import "sort"

// Verdict classifies a normalized reading.
type Verdict int

const (
	Accepted Verdict = iota
	RejectedInvalid
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case RejectedInvalid:
		return "rejected"
	default:
		return "unknown"
	}
}

// Decision is the validator's result. Missing lists the absent required
// fields in sorted order.
type Decision struct {
	Verdict Verdict
	Missing []string
}

// Validator gates persistence on the presence of the required fields.
type Validator struct {
	required []string
}

// NewValidator copies the required field set.
func NewValidator(required []string) *Validator {
	return &Validator{required: append([]string(nil), required...)}
}

// Validate accepts r when every required field is present. Other fields do
// not influence the decision.
func (v *Validator) Validate(r Reading) Decision {
	var missing []string
	for _, name := range v.required {
		if _, ok := r.Fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Decision{Verdict: RejectedInvalid, Missing: missing}
	}
	return Decision{Verdict: Accepted}
}
