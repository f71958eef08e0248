package bluesky

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	facetMention = "app.bsky.richtext.facet#mention"
	facetLink    = "app.bsky.richtext.facet#link"
	facetTag     = "app.bsky.richtext.facet#tag"
)

// Facet annotates a byte range of post text.
type Facet struct {
	Index    FacetIndex     `json:"index"`
	Features []FacetFeature `json:"features"`
}

// FacetIndex offsets are UTF-8 byte positions, end exclusive.
type FacetIndex struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type FacetFeature struct {
	Type string `json:"$type"`
	DID  string `json:"did,omitempty"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

var (
	mentionPattern = regexp.MustCompile(`(?:^|[\s(（])(@[a-zA-Z0-9][a-zA-Z0-9.-]*\.[a-zA-Z][a-zA-Z0-9-]*)`)
	linkPattern    = regexp.MustCompile(`https?://[^\s　]+`)
	tagPattern     = regexp.MustCompile(`(?:^|\s)([#＃][^\s#＃\p{P}]+)`)
)

// HandleResolver maps a handle to a DID.
type HandleResolver func(ctx context.Context, handle string) (string, error)

// DetectFacets finds mentions, links and hashtags. Mentions whose handle does
// not resolve are left as plain text.
func DetectFacets(ctx context.Context, text string, resolve HandleResolver) []Facet {
	var facets []Facet

	for _, m := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		handle := strings.TrimSuffix(text[start+1:end], ".")
		end = start + 1 + len(handle)
		if resolve == nil {
			continue
		}
		did, err := resolve(ctx, handle)
		if err != nil || did == "" {
			continue
		}
		facets = append(facets, Facet{
			Index:    FacetIndex{ByteStart: start, ByteEnd: end},
			Features: []FacetFeature{{Type: facetMention, DID: did}},
		})
	}

	for _, m := range linkPattern.FindAllStringIndex(text, -1) {
		start, end := m[0], m[1]
		uri := strings.TrimRight(text[start:end], ".,;:!?)。、）")
		end = start + len(uri)
		facets = append(facets, Facet{
			Index:    FacetIndex{ByteStart: start, ByteEnd: end},
			Features: []FacetFeature{{Type: facetLink, URI: uri}},
		})
	}

	for _, m := range tagPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		tag := text[start:end]
		_, size := utf8.DecodeRuneInString(tag)
		facets = append(facets, Facet{
			Index:    FacetIndex{ByteStart: start, ByteEnd: end},
			Features: []FacetFeature{{Type: facetTag, Tag: tag[size:]}},
		})
	}

	return facets
}
