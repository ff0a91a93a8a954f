package hook

// Record is one raw message as delivered by a queue. ID is the identity the
// queue knows the message by, not Job.ID.
type Record struct {
	ID   string
	Body []byte
}

type Outcome struct {
	Index    int
	RecordID string
	Err      error
}

func (o Outcome) Success() bool {
	return o.Err == nil
}

func (o Outcome) Retriable() bool {
	return Retriable(o.Err)
}

// BatchOutcome holds one Outcome per input record, in input order.
type BatchOutcome struct {
	Outcomes []Outcome
}

func (b BatchOutcome) Failures() []Outcome {
	var failed []Outcome
	for _, o := range b.Outcomes {
		if !o.Success() {
			failed = append(failed, o)
		}
	}
	return failed
}

func (b BatchOutcome) FailedRecordIDs() []string {
	var ids []string
	for _, o := range b.Failures() {
		ids = append(ids, o.RecordID)
	}
	return ids
}

func (b BatchOutcome) Succeeded() int {
	return len(b.Outcomes) - len(b.Failures())
}
