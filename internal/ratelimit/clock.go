package ratelimit

import "time"

func nowEpochSeconds() int64 {
	return time.Now().Unix()
}
