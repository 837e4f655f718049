package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("cvscreen:job:%s:status", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("cvscreen:ratelimit:%s", client)
}
