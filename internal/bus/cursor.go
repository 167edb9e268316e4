package bus

import (
	"encoding/base64"
	"strconv"
	"strings"

	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
)

// Cursors are opaque to clients: a base64url wrapper around the oldest
// sequence number of the page already seen.

func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte("seq:" + strconv.FormatInt(seq, 10)))
}

func decodeCursor(cursor string) (int64, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, apperrors.New(apperrors.CodePreconditionFailed, "cursor is not valid")
	}
	value, ok := strings.CutPrefix(string(raw), "seq:")
	if !ok {
		return 0, apperrors.New(apperrors.CodePreconditionFailed, "cursor is not valid")
	}
	seq, err := strconv.ParseInt(value, 10, 64)
	if err != nil || seq <= 0 {
		return 0, apperrors.New(apperrors.CodePreconditionFailed, "cursor is not valid")
	}
	return seq, nil
}
