package state

import "fmt"

const (
	CredentialsKey = "metadatagen_api_keys"
	ActivitiesKey  = "metadatagen_activities"
	UserStatsKey   = "metadatagen_user_stats"
)

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
