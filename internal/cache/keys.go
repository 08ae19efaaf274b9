package cache

import (
	"fmt"
)

func ValidationResultKey(track, datasetID string) string {
	return fmt.Sprintf("validation:%s:%s", track, datasetID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
