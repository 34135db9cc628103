package directive

// Outcome is either Applied or Rejected.
type Outcome interface {
	outcome()
}

// Applied carries a short before/after description for the audit log.
type Applied struct {
	DiffSummary string `json:"diff_summary"`
}

// Rejected carries the reason the directive was not applied.
type Rejected struct {
	Reason string `json:"reason"`
}

func (Applied) outcome()  {}
func (Rejected) outcome() {}

// Result pairs a directive with its outcome. Err keeps the underlying error
// of a rejection for errors.Is checks; it is not serialised.
type Result struct {
	Directive EditDirective `json:"directive"`
	Outcome   Outcome       `json:"outcome"`
	Err       error         `json:"-"`
}

func (r Result) Applied() bool {
	_, ok := r.Outcome.(Applied)
	return ok
}

// Change describes the result for the opportunity log: the diff summary
// when applied, the rejection reason otherwise.
func (r Result) Change() string {
	switch o := r.Outcome.(type) {
	case Applied:
		return o.DiffSummary
	case Rejected:
		return "rejected: " + o.Reason
	default:
		return ""
	}
}

// Summary counts a batch's results.
type Summary struct {
	Applied int `json:"applied"`
	Errors  int `json:"errors"`
}

func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		if r.Applied() {
			s.Applied++
		} else {
			s.Errors++
		}
	}
	return s
}
