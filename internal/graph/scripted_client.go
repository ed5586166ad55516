package graph

import (
	"context"
	"strings"
	"sync"
)

// ScriptedClient is a Client fake for tests. Replies are registered against
// a fragment of the Cypher text; every statement is recorded.
type ScriptedClient struct {
	mu           sync.Mutex
	calls        []Call
	replies      []reply
	err          error
	connectivity error
}

// Call is one recorded statement.
type Call struct {
	Write  bool
	Query  string
	Params map[string]any
}

type reply struct {
	fragment string
	result   Result
	err      error
}

func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{}
}

// On queues res for the next statement containing fragment. Queued replies
// are consumed in registration order.
func (s *ScriptedClient) On(fragment string, res Result) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply{fragment: fragment, result: res})
	return s
}

// FailOn queues err for the next statement containing fragment.
func (s *ScriptedClient) FailOn(fragment string, err error) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply{fragment: fragment, err: err})
	return s
}

// FailAll makes every statement return err.
func (s *ScriptedClient) FailAll(err error) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

func (s *ScriptedClient) WithConnectivityError(err error) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectivity = err
	return s
}

func (s *ScriptedClient) ExecuteWrite(_ context.Context, cypher string, params map[string]any) (Result, error) {
	return s.run(true, cypher, params)
}

func (s *ScriptedClient) ExecuteRead(_ context.Context, cypher string, params map[string]any) (Result, error) {
	return s.run(false, cypher, params)
}

func (s *ScriptedClient) run(write bool, cypher string, params map[string]any) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Write: write, Query: cypher, Params: cloneParams(params)})
	if s.err != nil {
		return Result{}, s.err
	}
	for i, r := range s.replies {
		if strings.Contains(cypher, r.fragment) {
			s.replies = append(s.replies[:i], s.replies[i+1:]...)
			return r.result, r.err
		}
	}
	return Result{}, nil
}

func (s *ScriptedClient) VerifyConnectivity(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectivity
}

func (s *ScriptedClient) Close(context.Context) error { return nil }

// Calls returns a snapshot of every recorded statement.
func (s *ScriptedClient) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func cloneParams(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
