// Package mock provides a test double for the memory.Store interface.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/reservoir-ai/reservoir/pkg/memory"
)

// LinkCall records a single invocation of LinkResponse.
type LinkCall struct {
	UserID      string
	AssistantID string
}

// Store is a mock implementation of memory.Store. StoreMessage keeps
// messages in memory and assigns sequential IDs; read operations return the
// configured canned results. Configure the Err fields to force failures.
type Store struct {
	mu sync.Mutex

	// Stored collects every message passed to StoreMessage, in order, with
	// the assigned ID filled in.
	Stored []memory.Message

	// LinkCalls records every call to LinkResponse.
	LinkCalls []LinkCall

	// SynapseCalls records the node IDs passed to UpdateSynapses.
	SynapseCalls []string

	// RecentResult and SimilarResult are returned by the read operations.
	RecentResult  []memory.Message
	SimilarResult []memory.Scored
	ThreadResult  []memory.Message

	StoreErr   error
	LinkErr    error
	RecentErr  error
	SimilarErr error
	SynapseErr error
	PingErr    error
}

var _ memory.Store = (*Store)(nil)

// StoreMessage records msg, assigns it the next sequential ID, and returns
// the ID. Re-storing an identical message returns the original ID.
func (s *Store) StoreMessage(ctx context.Context, msg memory.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StoreErr != nil {
		return "", s.StoreErr
	}
	hash := msg.ContentHash()
	for _, prev := range s.Stored {
		if prev.TraceID == msg.TraceID && prev.Role == msg.Role &&
			prev.Timestamp == msg.Timestamp && prev.ContentHash() == hash {
			return prev.ID, nil
		}
	}
	msg.ID = fmt.Sprintf("msg-%d", len(s.Stored)+1)
	s.Stored = append(s.Stored, msg)
	return msg.ID, nil
}

// LinkResponse records the call.
func (s *Store) LinkResponse(ctx context.Context, userID, assistantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LinkErr != nil {
		return s.LinkErr
	}
	s.LinkCalls = append(s.LinkCalls, LinkCall{UserID: userID, AssistantID: assistantID})
	return nil
}

// Recent returns RecentResult, RecentErr.
func (s *Store) Recent(ctx context.Context, partition, instance string, n int) ([]memory.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	if n < len(s.RecentResult) {
		return s.RecentResult[:n], nil
	}
	return s.RecentResult, nil
}

// Similar returns the SimilarResult entries scoring at or above threshold,
// capped at k.
func (s *Store) Similar(ctx context.Context, partition, instance string, vec []float32, k int, threshold float64) ([]memory.Scored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SimilarErr != nil {
		return nil, s.SimilarErr
	}
	var out []memory.Scored
	for _, sc := range s.SimilarResult {
		if len(out) == k {
			break
		}
		if sc.Score >= threshold {
			out = append(out, sc)
		}
	}
	return out, nil
}

// ThreadOf returns ThreadResult.
func (s *Store) ThreadOf(ctx context.Context, id string, hops int) ([]memory.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ThreadResult, nil
}

// UpdateSynapses records the node ID.
func (s *Store) UpdateSynapses(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SynapseErr != nil {
		return s.SynapseErr
	}
	s.SynapseCalls = append(s.SynapseCalls, id)
	return nil
}

// SearchText scans the stored messages for term, newest first.
func (s *Store) SearchText(ctx context.Context, partition, instance, term string, limit int) ([]memory.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lower := strings.ToLower(term)
	var out []memory.Message
	for i := len(s.Stored) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.Stored[i]
		if m.Partition == partition && m.Instance == instance &&
			strings.Contains(strings.ToLower(m.Content), lower) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Export returns a copy of every stored message.
func (s *Store) Export(ctx context.Context) ([]memory.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.Message, len(s.Stored))
	copy(out, s.Stored)
	return out, nil
}

// Import appends msgs to the stored set.
func (s *Store) Import(ctx context.Context, msgs []memory.Message) (int, error) {
	created := 0
	for _, m := range msgs {
		if _, err := s.StoreMessage(ctx, m); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// Ping returns PingErr.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close is a no-op.
func (s *Store) Close(ctx context.Context) error { return nil }

// Reset clears all recorded state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stored = nil
	s.LinkCalls = nil
	s.SynapseCalls = nil
}
