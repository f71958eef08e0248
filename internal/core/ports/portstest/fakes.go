// Package portstest provides in-memory implementations of the ports
// interfaces for tests.
package portstest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"trainer-bot/internal/core/domain"
	"trainer-bot/internal/core/ports"
)

// SentReply records a Reply call.
type SentReply struct {
	Text   string
	Parent domain.PostRef
	Root   domain.PostRef
}

// Social is a scripted ports.SocialClient.
type Social struct {
	mu sync.Mutex

	SelfDID       string
	Posts         []domain.Item
	Notifications []domain.Notification
	Threads       map[string]*domain.Thread
	Profiles      map[string]domain.Profile
	Blobs         map[string][]byte

	SessionErr error
	SearchErr  error
	ReplyErr   map[string]error
	PostErr    error

	Queries    []domain.SearchQuery
	Replies    []SentReply
	Standalone []string
	SeenMarked int
	seq        int
}

var _ ports.SocialClient = (*Social)(nil)

func (s *Social) EnsureSession(ctx context.Context) error { return s.SessionErr }

func (s *Social) Self() string { return s.SelfDID }

func (s *Social) SearchPosts(ctx context.Context, q domain.SearchQuery) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries = append(s.Queries, q)
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	return append([]domain.Item(nil), s.Posts...), nil
}

func (s *Social) nextRef() domain.PostRef {
	s.seq++
	return domain.PostRef{
		URI: fmt.Sprintf("at://%s/app.bsky.feed.post/bot%d", s.SelfDID, s.seq),
		CID: fmt.Sprintf("bafybot%d", s.seq),
	}
}

func (s *Social) Post(ctx context.Context, text string) (domain.PostRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PostErr != nil {
		return domain.PostRef{}, s.PostErr
	}
	s.Standalone = append(s.Standalone, text)
	return s.nextRef(), nil
}

func (s *Social) Reply(ctx context.Context, text string, parent, root domain.PostRef) (domain.PostRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ReplyErr[parent.URI]; err != nil {
		return domain.PostRef{}, err
	}
	s.Replies = append(s.Replies, SentReply{Text: text, Parent: parent, Root: root})
	return s.nextRef(), nil
}

func (s *Social) GetProfile(ctx context.Context, actor string) (domain.Profile, error) {
	p, ok := s.Profiles[actor]
	if !ok {
		return domain.Profile{}, errors.New("profile not found")
	}
	return p, nil
}

func (s *Social) ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	return append([]domain.Notification(nil), s.Notifications...), nil
}

func (s *Social) UpdateSeenNotifications(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SeenMarked++
	return nil
}

func (s *Social) GetThread(ctx context.Context, uri string) (*domain.Thread, error) {
	t, ok := s.Threads[uri]
	if !ok {
		return nil, errors.New("thread not found")
	}
	return t, nil
}

func (s *Social) FetchBlob(ctx context.Context, url string) ([]byte, error) {
	b, ok := s.Blobs[url]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", url)
	}
	return b, nil
}

// Generator is a scripted ports.TextGenerator. Responses are consumed in
// order; the last one repeats.
type Generator struct {
	mu        sync.Mutex
	ModelName string
	Responses []string
	Err       error
	Calls     [][]domain.Part
}

var _ ports.TextGenerator = (*Generator)(nil)

func (g *Generator) Generate(ctx context.Context, parts []domain.Part) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, parts)
	if g.Err != nil {
		return "", g.Err
	}
	if len(g.Responses) == 0 {
		return "", nil
	}
	r := g.Responses[0]
	if len(g.Responses) > 1 {
		g.Responses = g.Responses[1:]
	}
	return r, nil
}

func (g *Generator) Model() string { return g.ModelName }

// Images is a ports.ImagePreprocessor that passes bytes through and records
// calls.
type Images struct {
	mu         sync.Mutex
	Resized    int
	Composited [][][]byte
}

var _ ports.ImagePreprocessor = (*Images)(nil)

func (i *Images) ResizeWithinBounds(data []byte, maxW, maxH int) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Resized++
	return data, nil
}

func (i *Images) CompositeGrid(images [][]byte) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Composited = append(i.Composited, images)
	var out []byte
	for _, img := range images {
		out = append(out, img...)
	}
	return out, nil
}

// Notifier records notifications.
type Notifier struct {
	mu       sync.Mutex
	Messages []string
}

func (n *Notifier) Notify(ctx context.Context, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, title+"\n"+body)
	return nil
}
