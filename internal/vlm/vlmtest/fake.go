// Package vlmtest provides a scripted vlm.Completer for tests.
package vlmtest

import (
	"context"
	"sync"

	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

// Func computes the response to one request.
type Func func(ctx context.Context, req vlm.Request) (*vlm.Response, error)

// Fake records every request and answers with Respond.
type Fake struct {
	Respond Func

	mu       sync.Mutex
	requests []vlm.Request
}

// Reply returns a Fake that answers every call with the given choices.
func Reply(choices ...string) *Fake {
	return &Fake{Respond: func(context.Context, vlm.Request) (*vlm.Response, error) {
		return &vlm.Response{Choices: append([]string(nil), choices...)}, nil
	}}
}

func (f *Fake) Complete(ctx context.Context, req vlm.Request) (*vlm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.Respond == nil {
		return &vlm.Response{Choices: []string{"ok"}}, nil
	}
	return f.Respond(ctx, req)
}

// Calls returns the number of requests received.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of the recorded requests.
func (f *Fake) Requests() []vlm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vlm.Request(nil), f.requests...)
}

// CallsForStage counts requests whose Stage equals stage.
func (f *Fake) CallsForStage(stage string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Stage == stage {
			n++
		}
	}
	return n
}
