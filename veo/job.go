package veo

import "time"

// JobState is the lifecycle position of one remote generation request.
type JobState string

const (
	JobSubmitted JobState = "submitted"
	JobPolling   JobState = "polling"
	JobDone      JobState = "done"
	JobFailed    JobState = "failed"
)

// Job tracks one in-flight request. It lives only as long as the Generate
// call that created it; handles are never persisted, so a restarted process
// always submits again.
type Job struct {
	Name        string
	State       JobState
	SubmittedAt time.Time
	Polls       int
}

// Request describes one video to generate.
type Request struct {
	Prompt string
	// ReferenceImage is a local image path. It is attached only if the file
	// exists; a missing file means "no reference".
	ReferenceImage string
}

type instance struct {
	Prompt string     `json:"prompt"`
	Image  *imageData `json:"image,omitempty"`
}

type imageData struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type submitRequest struct {
	Instances []instance `json:"instances"`
}

type submitResponse struct {
	Name string `json:"name"`
}

type operation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

func (op *operation) videoURI() string {
	if op.Response == nil || len(op.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		return ""
	}
	return op.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI
}
