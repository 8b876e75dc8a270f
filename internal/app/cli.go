package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")

	flags.String("cms-base-url", "", "CMS management API base URL")
	flags.String("cms-api-key", "", "CMS stack API key")
	flags.String("cms-management-token", "", "CMS management token")
	flags.String("cms-branch", "", "CMS branch")
	flags.String("cms-locale", "", "CMS locale of fetched and updated entries")
	flags.Duration("cms-timeout", 0, "Timeout of a single CMS API call")

	flags.StringP("data-dir", "d", "", "Directory for job records and snapshots")
	flags.String("jobs-backend", "", "Job backend: auto, queue, or memory")
	flags.String("jobs-queue-path", "", "SQLite file of the durable job queue")
	flags.IntP("jobs-workers", "w", 0, "Jobs run concurrently by the queue backend")
	flags.Duration("jobs-poll-interval", 0, "Queue polling interval")
	flags.Duration("jobs-visibility", 0, "Time before an unacknowledged queued job is redelivered")
	flags.Duration("jobs-retention-max-age", 0, "Delete finished job records older than this at startup")
	flags.Int("jobs-retention-max-count", 0, "Keep at most this many job records")
	flags.Bool("jobs-require-snapshot", false, "Do not update an entry whose snapshot could not be written")
	flags.Duration("snapshots-retention-max-age", 0, "Delete snapshots older than this at startup")
	flags.Int("snapshots-retention-max-count", 0, "Keep at most this many snapshots")
	flags.Int("rules-max-pattern-length", 0, "Longest accepted find pattern")
}
