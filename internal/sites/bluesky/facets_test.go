package bluesky

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolver(known map[string]string) HandleResolver {
	return func(ctx context.Context, handle string) (string, error) {
		if did, ok := known[handle]; ok {
			return did, nil
		}
		return "", errors.New("unknown handle")
	}
}

func TestDetectFacets_MentionByteOffsets(t *testing.T) {
	text := "@alice.bsky.social こんにちは！"
	facets := DetectFacets(context.Background(), text, resolver(map[string]string{"alice.bsky.social": "did:plc:alice"}))
	require.Len(t, facets, 1)
	f := facets[0]
	assert.Equal(t, FacetIndex{ByteStart: 0, ByteEnd: len("@alice.bsky.social")}, f.Index)
	assert.Equal(t, facetMention, f.Features[0].Type)
	assert.Equal(t, "did:plc:alice", f.Features[0].DID)
}

func TestDetectFacets_MentionAfterMultibyteText(t *testing.T) {
	text := "おはよう @bob.example.com."
	facets := DetectFacets(context.Background(), text, resolver(map[string]string{"bob.example.com": "did:plc:bob"}))
	require.Len(t, facets, 1)
	start := len("おはよう ")
	assert.Equal(t, start, facets[0].Index.ByteStart)
	assert.Equal(t, "@bob.example.com", text[facets[0].Index.ByteStart:facets[0].Index.ByteEnd])
}

func TestDetectFacets_UnresolvedMentionSkipped(t *testing.T) {
	facets := DetectFacets(context.Background(), "@ghost.bsky.social hi", resolver(nil))
	assert.Empty(t, facets)
}

func TestDetectFacets_LinksAndTags(t *testing.T) {
	text := "詳細は https://example.com/a?b=1。 #青空筋トレ部"
	facets := DetectFacets(context.Background(), text, nil)
	require.Len(t, facets, 2)

	link := facets[0]
	assert.Equal(t, facetLink, link.Features[0].Type)
	assert.Equal(t, "https://example.com/a?b=1", link.Features[0].URI)
	assert.Equal(t, "https://example.com/a?b=1", text[link.Index.ByteStart:link.Index.ByteEnd])

	tag := facets[1]
	assert.Equal(t, facetTag, tag.Features[0].Type)
	assert.Equal(t, "青空筋トレ部", tag.Features[0].Tag)
	assert.Equal(t, "#青空筋トレ部", text[tag.Index.ByteStart:tag.Index.ByteEnd])
}
