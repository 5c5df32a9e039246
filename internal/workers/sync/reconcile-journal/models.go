package reconcilejournal

import "time"

type Output struct {
	Unsynced      int           `json:"unsynced"`
	Stale         int           `json:"stale"`
	AlreadyRemote int           `json:"alreadyRemote"`
	Pushed        int           `json:"pushed"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	Retries       int           `json:"retries"`
	CellsRepaired int           `json:"cellsRepaired"`
	Duration      time.Duration `json:"duration"`
}
