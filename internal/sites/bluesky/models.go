package bluesky

import (
	"encoding/json"
	"time"
)

// Session is the persisted login state.
type Session struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Active     *bool  `json:"active,omitempty"`
}

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// PostRecord is app.bsky.feed.post.
type PostRecord struct {
	Type      string    `json:"$type,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Reply     *ReplyRef `json:"reply,omitempty"`
	Facets    []Facet   `json:"facets,omitempty"`
	Langs     []string  `json:"langs,omitempty"`
}

type Author struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

type ViewImage struct {
	Thumb    string `json:"thumb"`
	Fullsize string `json:"fullsize"`
	Alt      string `json:"alt"`
}

// Embed covers app.bsky.embed.images#view and the media half of
// app.bsky.embed.recordWithMedia#view.
type Embed struct {
	Type   string      `json:"$type"`
	Images []ViewImage `json:"images"`
	Media  *Embed      `json:"media,omitempty"`
}

// PostView is app.bsky.feed.defs#postView.
type PostView struct {
	URI       string     `json:"uri"`
	CID       string     `json:"cid"`
	Author    Author     `json:"author"`
	Record    PostRecord `json:"record"`
	Embed     *Embed     `json:"embed,omitempty"`
	IndexedAt time.Time  `json:"indexedAt"`
}

type searchPostsResponse struct {
	Cursor    string     `json:"cursor"`
	HitsTotal int        `json:"hitsTotal"`
	Posts     []PostView `json:"posts"`
}

// ApiNotification keeps the record raw because its schema depends on Reason
// (a follow record is not a post).
type ApiNotification struct {
	URI       string          `json:"uri"`
	CID       string          `json:"cid"`
	Author    Author          `json:"author"`
	Reason    string          `json:"reason"`
	Record    json.RawMessage `json:"record"`
	IsRead    bool            `json:"isRead"`
	IndexedAt time.Time       `json:"indexedAt"`
}

type listNotificationsResponse struct {
	Cursor        string            `json:"cursor"`
	Notifications []ApiNotification `json:"notifications"`
}

// ThreadView is app.bsky.feed.defs#threadViewPost. NotFound and Blocked
// variants decode with an empty Post.
type ThreadView struct {
	Type   string      `json:"$type"`
	Post   *PostView   `json:"post,omitempty"`
	Parent *ThreadView `json:"parent,omitempty"`
}

type getPostThreadResponse struct {
	Thread ThreadView `json:"thread"`
}

type profileResponse struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

type createRecordRequest struct {
	Repo       string     `json:"repo"`
	Collection string     `json:"collection"`
	Record     PostRecord `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}
