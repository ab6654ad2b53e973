package models

import "time"

// SessionInfo describes the single live remote session. Credentials are
// held only in memory by the connection manager and never appear here.
type SessionInfo struct {
	Host        string
	Username    string
	ConnectedAt time.Time
	Expired     bool
}
