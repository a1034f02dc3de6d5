package model

import "time"

// HubStats is the runtime snapshot served on /debug/stats.
type HubStats struct {
	OnlineUsers     int           `json:"online_users"`
	PendingMessages int           `json:"pending_messages"`
	InFlightTasks   int64         `json:"in_flight_tasks"`
	Uptime          time.Duration `json:"uptime"`
}
