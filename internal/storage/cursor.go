package storage

import (
	"encoding/base64"
	"encoding/json"

	"audittrail/pkg/apperrors"
)

// Cursors are backend-native resumption tokens wrapped in base64 JSON so
// callers can treat them as opaque strings. A caller never inspects the
// payload; it only hands the token back to resume the listing.

func encodeCursor(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// Cursor payloads are small plain structs; failure here is a bug.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return apperrors.Wrap(apperrors.KindQuery, "malformed cursor", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.Wrap(apperrors.KindQuery, "malformed cursor", err)
	}
	return nil
}
