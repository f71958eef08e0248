package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"trainer-bot/internal/core/domain"
	"trainer-bot/internal/core/ports"
)

const (
	DefaultBaseURL = "https://bsky.social"
	SessionKey     = "bsky_session"

	postCollection = "app.bsky.feed.post"
	maxBlobBytes   = 10 << 20
)

var ErrNoSession = errors.New("no bluesky session")

// APIError is a non-2xx XRPC response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("xrpc %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) expired() bool {
	return e.Status == http.StatusUnauthorized || e.Code == "ExpiredToken" || e.Code == "InvalidToken"
}

// Client is the Bluesky adapter. It implements ports.SocialClient over plain
// XRPC calls and keeps its session in Storage.
type Client struct {
	BaseURL    string
	Identifier string
	Password   string
	HTTPClient *http.Client
	Storage    ports.Storage
	Logger     *zap.Logger

	mu      sync.Mutex
	session *Session
}

func NewClient(storage ports.Storage, identifier, password string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL:    DefaultBaseURL,
		Identifier: identifier,
		Password:   password,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Storage:    storage,
		Logger:     logger,
	}
}

var _ ports.SocialClient = (*Client)(nil)

func (c *Client) Self() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.DID
}

func (c *Client) current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) setSession(ctx context.Context, s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.Storage.Put(ctx, SessionKey, string(data)); err != nil {
		c.Logger.Warn("Failed to save session", zap.Error(err))
	}
}

// EnsureSession resumes the stored session, refreshing it if the access token
// expired, and logs in from scratch as a last resort.
func (c *Client) EnsureSession(ctx context.Context) error {
	err := c.resumeSession(ctx)
	if err == nil {
		return nil
	}
	c.Logger.Info("Could not resume session", zap.Error(err))
	return c.createSession(ctx)
}

func (c *Client) resumeSession(ctx context.Context) error {
	raw, ok, err := c.Storage.Get(ctx, SessionKey)
	if err != nil {
		return err
	}
	if !ok || raw == "" {
		return ErrNoSession
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if s.AccessJwt == "" {
		return ErrNoSession
	}

	var me Session
	err = c.call(ctx, http.MethodGet, "com.atproto.server.getSession", nil, nil, &me, s.AccessJwt)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.expired() {
		refreshed, rerr := c.refresh(ctx, s.RefreshJwt)
		if rerr != nil {
			return rerr
		}
		c.setSession(ctx, refreshed)
		c.Logger.Info("Session refreshed", zap.String("handle", refreshed.Handle))
		return nil
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	c.Logger.Info("Session resumed", zap.String("handle", s.Handle))
	return nil
}

func (c *Client) refresh(ctx context.Context, refreshJwt string) (*Session, error) {
	if refreshJwt == "" {
		return nil, ErrNoSession
	}
	var s Session
	if err := c.call(ctx, http.MethodPost, "com.atproto.server.refreshSession", nil, nil, &s, refreshJwt); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return &s, nil
}

func (c *Client) createSession(ctx context.Context) error {
	if c.Identifier == "" || c.Password == "" {
		return fmt.Errorf("create session: credentials are not configured")
	}
	var s Session
	req := createSessionRequest{Identifier: c.Identifier, Password: c.Password}
	if err := c.call(ctx, http.MethodPost, "com.atproto.server.createSession", nil, req, &s, ""); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	c.setSession(ctx, &s)
	c.Logger.Info("New session created", zap.String("handle", s.Handle))
	return nil
}

// authed performs an authenticated call and retries once after refreshing an
// expired token.
func (c *Client) authed(ctx context.Context, method, nsid string, params url.Values, body, out any) error {
	s := c.current()
	if s == nil {
		return ErrNoSession
	}
	err := c.call(ctx, method, nsid, params, body, out, s.AccessJwt)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.expired() {
		return err
	}
	refreshed, rerr := c.refresh(ctx, s.RefreshJwt)
	if rerr != nil {
		return err
	}
	c.setSession(ctx, refreshed)
	return c.call(ctx, method, nsid, params, body, out, refreshed.AccessJwt)
}

func (c *Client) call(ctx context.Context, method, nsid string, params url.Values, body, out any, token string) error {
	u := c.BaseURL + "/xrpc/" + nsid
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var xe xrpcError
		json.NewDecoder(resp.Body).Decode(&xe)
		return &APIError{Status: resp.StatusCode, Code: xe.Error, Message: xe.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", nsid, err)
	}
	return nil
}

func (c *Client) SearchPosts(ctx context.Context, q domain.SearchQuery) ([]domain.Item, error) {
	params := url.Values{}
	params.Set("q", q.Query)
	params.Set("sort", "latest")
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Author != "" {
		params.Set("author", q.Author)
	}
	if !q.Since.IsZero() {
		params.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		params.Set("until", q.Until.UTC().Format(time.RFC3339))
	}
	c.Logger.Debug("Search posts", zap.String("params", params.Encode()))

	var res searchPostsResponse
	if err := c.authed(ctx, http.MethodGet, "app.bsky.feed.searchPosts", params, nil, &res); err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, len(res.Posts))
	for _, p := range res.Posts {
		if p.URI == "" || p.CID == "" {
			continue
		}
		items = append(items, toItem(p))
	}
	return items, nil
}

func (c *Client) Post(ctx context.Context, text string) (domain.PostRef, error) {
	return c.createPost(ctx, text, nil)
}

func (c *Client) Reply(ctx context.Context, text string, parent, root domain.PostRef) (domain.PostRef, error) {
	if root.IsZero() {
		root = parent
	}
	return c.createPost(ctx, text, &ReplyRef{
		Root:   StrongRef{URI: root.URI, CID: root.CID},
		Parent: StrongRef{URI: parent.URI, CID: parent.CID},
	})
}

func (c *Client) createPost(ctx context.Context, text string, reply *ReplyRef) (domain.PostRef, error) {
	s := c.current()
	if s == nil {
		return domain.PostRef{}, ErrNoSession
	}
	rec := PostRecord{
		Type:      postCollection,
		Text:      text,
		CreatedAt: time.Now().UTC(),
		Reply:     reply,
		Facets:    DetectFacets(ctx, text, c.ResolveHandle),
		Langs:     []string{"ja"},
	}
	var res createRecordResponse
	req := createRecordRequest{Repo: s.DID, Collection: postCollection, Record: rec}
	if err := c.authed(ctx, http.MethodPost, "com.atproto.repo.createRecord", nil, req, &res); err != nil {
		return domain.PostRef{}, fmt.Errorf("create post: %w", err)
	}
	return domain.PostRef{URI: res.URI, CID: res.CID}, nil
}

func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var res resolveHandleResponse
	params := url.Values{"handle": {handle}}
	if err := c.authed(ctx, http.MethodGet, "com.atproto.identity.resolveHandle", params, nil, &res); err != nil {
		return "", err
	}
	return res.DID, nil
}

func (c *Client) GetProfile(ctx context.Context, actor string) (domain.Profile, error) {
	var res profileResponse
	params := url.Values{"actor": {actor}}
	if err := c.authed(ctx, http.MethodGet, "app.bsky.actor.getProfile", params, nil, &res); err != nil {
		return domain.Profile{}, err
	}
	if res.Handle == "" {
		return domain.Profile{}, fmt.Errorf("profile %s has no handle", actor)
	}
	return domain.Profile{DID: res.DID, Handle: res.Handle, DisplayName: res.DisplayName}, nil
}

// ListNotifications returns the latest notifications. Entries whose record
// does not decode are dropped.
func (c *Client) ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	var res listNotificationsResponse
	if err := c.authed(ctx, http.MethodGet, "app.bsky.notification.listNotifications", params, nil, &res); err != nil {
		return nil, err
	}

	notifs := make([]domain.Notification, 0, len(res.Notifications))
	for _, n := range res.Notifications {
		var rec PostRecord
		if err := json.Unmarshal(n.Record, &rec); err != nil {
			c.Logger.Debug("Skipping malformed notification", zap.String("uri", n.URI), zap.Error(err))
			continue
		}
		notifs = append(notifs, domain.Notification{
			Reason:    domain.NotificationReason(n.Reason),
			IsRead:    n.IsRead,
			IndexedAt: n.IndexedAt,
			Item:      recordItem(n.URI, n.CID, n.Author.DID, rec),
		})
	}
	return notifs, nil
}

func (c *Client) UpdateSeenNotifications(ctx context.Context) error {
	body := map[string]string{"seenAt": time.Now().UTC().Format(time.RFC3339Nano)}
	return c.authed(ctx, http.MethodPost, "app.bsky.notification.updateSeen", nil, body, nil)
}

func (c *Client) GetThread(ctx context.Context, uri string) (*domain.Thread, error) {
	params := url.Values{"uri": {uri}, "depth": {"0"}, "parentHeight": {"1"}}
	var res getPostThreadResponse
	if err := c.authed(ctx, http.MethodGet, "app.bsky.feed.getPostThread", params, nil, &res); err != nil {
		return nil, err
	}
	if res.Thread.Post == nil {
		return nil, fmt.Errorf("thread %s unavailable (%s)", uri, res.Thread.Type)
	}

	t := &domain.Thread{Post: toItem(*res.Thread.Post)}
	if r := res.Thread.Post.Record.Reply; r != nil && r.Root.URI != "" {
		t.Root = &domain.PostRef{URI: r.Root.URI, CID: r.Root.CID}
	}
	if p := res.Thread.Parent; p != nil && p.Post != nil {
		t.ParentAuthorDID = p.Post.Author.DID
	}
	return t, nil
}

// FetchBlob downloads an image from the CDN. No auth is needed.
func (c *Client) FetchBlob(ctx context.Context, blobURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", blobURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBlobBytes))
}

func toItem(p PostView) domain.Item {
	item := recordItem(p.URI, p.CID, p.Author.DID, p.Record)
	item.ImageURLs = imageURLs(p.Embed)
	return item
}

func recordItem(uri, cid, author string, rec PostRecord) domain.Item {
	item := domain.Item{
		URI:       uri,
		CID:       cid,
		AuthorDID: author,
		Text:      rec.Text,
		CreatedAt: rec.CreatedAt,
	}
	if rec.Reply != nil {
		item.ReplyParent = &domain.PostRef{URI: rec.Reply.Parent.URI, CID: rec.Reply.Parent.CID}
		item.ReplyRoot = &domain.PostRef{URI: rec.Reply.Root.URI, CID: rec.Reply.Root.CID}
	}
	return item
}

func imageURLs(e *Embed) []string {
	if e == nil {
		return nil
	}
	if len(e.Images) == 0 && e.Media != nil {
		e = e.Media
	}
	var urls []string
	for _, img := range e.Images {
		if img.Fullsize != "" {
			urls = append(urls, img.Fullsize)
		}
	}
	return urls
}
