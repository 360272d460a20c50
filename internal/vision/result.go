package vision

// Status is the normalized outcome of one vision service call.
type Status string

const (
	StatusOK           Status = "ok"
	StatusUnavailable  Status = "unavailable"
	StatusTimeout      Status = "timeout"
	StatusServiceError Status = "service_error"
	StatusMalformed    Status = "malformed"
)

// Outcome carries the call status and, for anything but StatusOK, a human readable detail.
type Outcome struct {
	Status Status
	Detail string
}

// OK reports whether the service answered with a well-formed payload.
func (o Outcome) OK() bool { return o.Status == StatusOK }

func ok() Outcome { return Outcome{Status: StatusOK} }

func unavailable() Outcome {
	return Outcome{Status: StatusUnavailable, Detail: "vision service not configured"}
}

func malformed(detail string) Outcome {
	return Outcome{Status: StatusMalformed, Detail: detail}
}

// CropResult is the answer of the detect-and-crop operation.
// Confidence is whatever the detector reported, even when nothing was detected.
type CropResult struct {
	Outcome
	Detected   bool
	Cropped    []byte
	Confidence *float64
}

// SegmentResult is the answer of the background segmentation operation.
type SegmentResult struct {
	Outcome
	Detected  bool
	Segmented []byte
}

// EmbedResult is the answer of the embedding operation.
// Dim is the dimension the service declared, which may differ from len(Vector).
type EmbedResult struct {
	Outcome
	Vector []float32
	Dim    int
	Model  string
}

// VerifyMatch scores one candidate against the query image.
// CandidateIndex is the position of the candidate in the request.
type VerifyMatch struct {
	CandidateIndex  int
	IsSame          bool
	Score           float64
	ConfidenceLabel string
	MatchCount      int
	InlierCount     int
}

// VerifyResult is the answer of the verification operation.
type VerifyResult struct {
	Outcome
	Results []VerifyMatch
}
