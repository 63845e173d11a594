package redisserver

// Version is the current version of the redis-inmemory-server library.
const Version = "0.1.0"

// RedisVersion is the Redis version reported by INFO server
const RedisVersion = "7.2.0"

// GitCommit is the git commit hash (set by build flags)
var GitCommit string

// BuildTime is the build timestamp (set by build flags)
var BuildTime string

// VersionInfo returns detailed version information
func VersionInfo() map[string]string {
	info := map[string]string{
		"version":       Version,
		"redis_version": RedisVersion,
	}

	if GitCommit != "" {
		info["commit"] = GitCommit
	}

	if BuildTime != "" {
		info["buildTime"] = BuildTime
	}

	return info
}
