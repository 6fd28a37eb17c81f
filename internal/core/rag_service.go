package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/coursebot/courserag/internal/llm"
	"github.com/coursebot/courserag/internal/metrics"
	"github.com/coursebot/courserag/internal/session"
	"github.com/coursebot/courserag/internal/tools"
)

var ErrEmptyQuery = errors.New("query must not be empty")

type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type QueryResponse struct {
	Answer    string         `json:"answer"`
	Sources   []tools.Source `json:"sources"`
	SessionID string         `json:"session_id"`
}

// RAGService answers one query at a time per session: it loads the session
// history, runs the generator and records the exchange.
type RAGService struct {
	sessions  *session.Store
	generator *Generator
	metrics   *metrics.Metrics
}

func NewRAGService(sessions *session.Store, generator *Generator, m *metrics.Metrics) *RAGService {
	return &RAGService{sessions: sessions, generator: generator, metrics: m}
}

// Query runs the pipeline. The session only changes when an answer is
// produced; provider failures and cancellation leave it as it was.
func (s *RAGService) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		s.metrics.ObserveQuery("invalid", time.Since(start))
		return nil, ErrEmptyQuery
	}

	id := s.sessions.GetOrCreate(req.SessionID)
	unlock, err := s.sessions.Lock(ctx, id)
	if err != nil {
		s.metrics.ObserveQuery(outcome(err), time.Since(start))
		return nil, fmt.Errorf("waiting for session %s: %w", id, err)
	}
	defer unlock()

	history := s.sessions.History(id)
	answer, err := s.generator.Run(ctx, toMessages(history), query)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.metrics.ObserveQuery(outcome(err), time.Since(start))
		return nil, fmt.Errorf("query in session %s: %w", id, err)
	}

	s.sessions.Append(id,
		session.Turn{Role: llm.RoleUser, Content: query},
		session.Turn{Role: llm.RoleAssistant, Content: answer.Text},
	)
	s.metrics.ObserveQuery(strings.ToLower(answer.State.String()), time.Since(start))
	log.Printf("Answered query in session %s after %d round-trips (%s, %d sources)",
		id, answer.RoundTrips, answer.State, len(answer.Sources))

	return &QueryResponse{Answer: answer.Text, Sources: answer.Sources, SessionID: id}, nil
}

// ClearSession drops a session's history.
func (s *RAGService) ClearSession(id string) bool {
	unlock, err := s.sessions.Lock(context.Background(), id)
	if err != nil {
		return false
	}
	defer unlock()
	return s.sessions.Delete(id)
}

func toMessages(turns []session.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrProviderFailed):
		return "provider_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
