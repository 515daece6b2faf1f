package models

type JobStatusCode int

const (
	STATUS_UNKNOWN JobStatusCode = iota
	STATUS_AMBIGUOUS
	STATUS_RUNNING
	STATUS_SUCCEEDED
	STATUS_FAILED //only ever reported when failure detection is switched on
)

func (c JobStatusCode) String() string {
	switch c {
	case STATUS_UNKNOWN:
		return "UNKNOWN"
	case STATUS_AMBIGUOUS:
		return "AMBIGUOUS"
	case STATUS_RUNNING:
		return "RUNNING"
	case STATUS_SUCCEEDED:
		return "SUCCEEDED"
	case STATUS_FAILED:
		return "FAILED"
	default:
		return "INVALID"
	}
}

func (c JobStatusCode) IsTerminal() bool {
	return c == STATUS_SUCCEEDED || c == STATUS_FAILED
}

/**
a more convenient representation of the job status from the kubernetes server.
a nil counter means that the job controller has not recorded anything for it yet; this object is not stored,
it's simply translated from the fuller data to make classification easier
*/
type JobOutcome struct {
	Succeeded       *int32
	Active          *int32
	Failed          *int32
	FailedCondition bool
}

func Int32Ptr(v int32) *int32 {
	return &v
}
