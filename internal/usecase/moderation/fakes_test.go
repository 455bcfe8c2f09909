package moderation

import (
	"context"
	"errors"
	"sync"
	"time"

	"minitwitter/internal/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	posts    map[int64]domain.Post
	applyErr error
	applied  int
}

func newFakeStore(posts ...domain.Post) *fakeStore {
	s := &fakeStore{posts: make(map[int64]domain.Post)}
	for _, p := range posts {
		s.posts[p.ID] = p
	}
	return s
}

func (s *fakeStore) CreatePost(_ context.Context, userID int64, text string) (domain.Post, error) {
	return domain.Post{}, errors.New("not implemented")
}

func (s *fakeStore) UpdatePostText(_ context.Context, userID, postID int64, text string) (domain.Post, error) {
	return domain.Post{}, errors.New("not implemented")
}

func (s *fakeStore) DeletePost(_ context.Context, userID, postID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.posts, postID)
	return nil
}

func (s *fakeStore) GetPost(_ context.Context, postID int64) (domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return domain.Post{}, domain.ErrPostNotFound
	}
	return p, nil
}

func (s *fakeStore) ListFeed(context.Context) ([]domain.Post, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) ApplyModeration(_ context.Context, postID int64, result domain.ModerationResult, reprocess bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return false, s.applyErr
	}
	p, ok := s.posts[postID]
	if !ok || (!reprocess && p.Moderated()) {
		return false, nil
	}
	p.Sentiment = result.Sentiment
	p.Correction = result.Correction
	s.posts[postID] = p
	s.applied++
	return true, nil
}

func (s *fakeStore) ListUnmoderated(_ context.Context, olderThan time.Time, limit int) ([]domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Post
	for _, p := range s.posts {
		if !p.Moderated() && p.CreatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeClassifier struct {
	mu      sync.Mutex
	verdict domain.Verdict
	err     error
	block   bool
	calls   int
	texts   []string
}

func (c *fakeClassifier) Classify(ctx context.Context, text string) (domain.Verdict, error) {
	c.mu.Lock()
	c.calls++
	c.texts = append(c.texts, text)
	block, verdict, err := c.block, c.verdict, c.err
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return domain.Verdict{}, ctx.Err()
	}
	return verdict, err
}

func (c *fakeClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeFeed struct {
	mu          sync.Mutex
	invalidated int
}

func (f *fakeFeed) GetFeed(context.Context, *int64) ([]domain.Post, error) { return nil, nil }

func (f *fakeFeed) Invalidate(context.Context) {
	f.mu.Lock()
	f.invalidated++
	f.mu.Unlock()
}

func (f *fakeFeed) Invalidated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidated
}

type delivery struct {
	job domain.ModerationJob
	err error
}

// fakeQueue раздаёт задачи из канала и запоминает подтверждения.
type fakeQueue struct {
	deliveries chan delivery

	mu       sync.Mutex
	acked    []bool
	enqueued []domain.ModerationJob
	dead     []domain.ModerationJob
	reasons  []string
	enqErr   error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{deliveries: make(chan delivery, 16)}
}

func (q *fakeQueue) Enqueue(_ context.Context, job domain.ModerationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqErr != nil {
		return q.enqErr
	}
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *fakeQueue) Receive(ctx context.Context) (domain.ModerationJob, domain.AckFunc, error) {
	select {
	case <-ctx.Done():
		return domain.ModerationJob{}, nil, ctx.Err()
	case d := <-q.deliveries:
		if d.err != nil {
			return domain.ModerationJob{}, nil, d.err
		}
		return d.job, q.ack, nil
	}
}

func (q *fakeQueue) DeadLetter(_ context.Context, job domain.ModerationJob, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, job)
	q.reasons = append(q.reasons, reason)
	return nil
}

func (q *fakeQueue) ack(success bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, success)
	return nil
}

func (q *fakeQueue) Acked() []bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]bool(nil), q.acked...)
}
