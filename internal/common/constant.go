package common

import "time"

// JSONContentType is the content type of every transcript blob.
const JSONContentType = "application/json"

// PresignTTL is the lifetime of a presigned transcript URL (518400 seconds).
const PresignTTL = 6 * 24 * time.Hour

// MaxMessageContentSize is the serialized content size above which the
// generation layer logs an oversized-content warning.
const MaxMessageContentSize = 20 << 20
