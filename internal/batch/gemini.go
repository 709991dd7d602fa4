package batch

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

// metadataKey carries the item key on each inlined request.
const metadataKey = "key"

// GeminiBackend runs jobs through the Gemini Batches API with inlined
// requests.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

var _ Backend = (*GeminiBackend)(nil)

// NewGeminiBackend creates a GeminiBackend for model.
func NewGeminiBackend(client *genai.Client, model string) *GeminiBackend {
	return &GeminiBackend{client: client, model: model}
}

func (g *GeminiBackend) Submit(ctx context.Context, displayName string, reqs []Request) (string, error) {
	job, err := g.client.Batches.Create(ctx, g.model, &genai.BatchJobSource{
		InlinedRequests: InlinedRequests(reqs),
	}, &genai.CreateBatchJobConfig{DisplayName: displayName})
	if err != nil {
		return "", err
	}
	return job.Name, nil
}

func (g *GeminiBackend) Get(ctx context.Context, name string) (*Status, error) {
	job, err := g.client.Batches.Get(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	return JobStatus(job)
}

// InlinedRequests converts keyed requests to Gemini inlined requests. The
// item key rides in the request metadata.
func InlinedRequests(reqs []Request) []*genai.InlinedRequest {
	out := make([]*genai.InlinedRequest, 0, len(reqs))
	for _, r := range reqs {
		contents := vlm.GeminiContents(r.Req.Exemplars)
		contents = append(contents, vlm.GeminiContent(r.Req.Query))
		out = append(out, &genai.InlinedRequest{
			Contents: contents,
			Config:   vlm.GeminiConfig(r.Req),
			Metadata: map[string]string{metadataKey: r.Key},
		})
	}
	return out
}

// JobStatus maps a Gemini batch job onto a Status.
func JobStatus(job *genai.BatchJob) (*Status, error) {
	switch job.State {
	case genai.JobStateSucceeded:
	case genai.JobStateFailed, genai.JobStateCancelled, genai.JobStateExpired:
		msg := string(job.State)
		if job.Error != nil && job.Error.Message != "" {
			msg += ": " + job.Error.Message
		}
		return &Status{State: StateFailed, Message: msg}, nil
	default:
		return &Status{State: StatePending, Message: string(job.State)}, nil
	}

	if job.Dest == nil {
		return nil, errors.New("succeeded job has no destination")
	}
	st := &Status{State: StateSucceeded, Results: make([]Result, 0, len(job.Dest.InlinedResponses))}
	for _, r := range job.Dest.InlinedResponses {
		var res Result
		if r == nil {
			res.Err = errors.New("missing response")
			st.Results = append(st.Results, res)
			continue
		}
		res.Key = r.Metadata[metadataKey]
		switch {
		case r.Error != nil:
			code := int32(0)
			if r.Error.Code != nil {
				code = *r.Error.Code
			}
			res.Err = fmt.Errorf("error %d: %s", code, r.Error.Message)
		default:
			res.Choices = vlm.GeminiResponse(r.Response).Choices
		}
		st.Results = append(st.Results, res)
	}
	return st, nil
}
