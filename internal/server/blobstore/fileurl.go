package blobstore

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

const minFileURLSegments = 7

// ParseFileURL recovers the bucket and key from a presigned URL using the
// positional path layout: segment 4 is the bucket, segments 5 and 6 form the
// key. Only rows without an explicit blob reference depend on this.
func ParseFileURL(raw string) (models.BlobRef, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return models.BlobRef{}, fmt.Errorf("%w: file url: %v", common.ErrParse, err)
	}

	segments := strings.Split(u.Path, "/")
	if len(segments) < minFileURLSegments {
		return models.BlobRef{}, fmt.Errorf("%w: file url path %q has %d segments, need %d",
			common.ErrParse, u.Path, len(segments), minFileURLSegments)
	}

	return models.BlobRef{
		Bucket: segments[4],
		Key:    segments[5] + "/" + segments[6],
	}, nil
}

// ResolveRef prefers the explicit reference and falls back to decoding the URL.
func ResolveRef(c *models.Conversation) (models.BlobRef, error) {
	if !c.Blob.IsZero() {
		return c.Blob, nil
	}
	return ParseFileURL(c.FileURL)
}

// ObjectKey is the storage key of a conversation transcript.
func ObjectKey(userID, conversationID string) string {
	return fmt.Sprintf("%s/%s.json", userID, conversationID)
}
