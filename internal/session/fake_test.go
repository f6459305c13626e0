package session

import (
	"context"
	"fmt"
	"sync"
)

// fakeSession records every call in order
type fakeSession struct {
	mu        sync.Mutex
	calls     []string
	userAgent string
	title     string
	evalErr   error
	cdpErr    error
	results   map[string]any
	closed    int
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.record("navigate " + url)
	return nil
}

func (f *fakeSession) Title(context.Context) (string, error) {
	f.record("title")
	return f.title, nil
}

func (f *fakeSession) Evaluate(_ context.Context, expr string) (any, error) {
	f.record("eval " + expr)
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	if expr == "navigator.userAgent" {
		return f.userAgent, nil
	}
	if v, ok := f.results[expr]; ok {
		return v, nil
	}
	return nil, nil
}

func (f *fakeSession) ExecuteCDP(_ context.Context, method string, params map[string]any) error {
	f.record(fmt.Sprintf("cdp %s %v", method, params["userAgent"]))
	return f.cdpErr
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}
