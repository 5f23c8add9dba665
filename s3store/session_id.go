package s3store

import (
	"fmt"
	"strings"
)

// sessionID joins the object key and the multipart upload id. Keys may
// contain ':' themselves, upload ids never do.
func sessionID(key, uploadID string) string {
	return key + ":" + uploadID
}

func parseSessionID(id string) (key string, uploadID string, err error) {
	sep := strings.LastIndex(id, ":")
	if sep <= 0 || sep == len(id)-1 {
		return "", "", fmt.Errorf("invalid session id %q: expected <key>:<upload id>", id)
	}
	return id[:sep], id[sep+1:], nil
}
