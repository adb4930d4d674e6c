package store

import (
	"errors"

	"github.com/yourorg/promptcap/pkg/types"
)

// ErrNoSnapshot is returned when nothing has been captured yet.
var ErrNoSnapshot = errors.New("no capture snapshot")

type Store interface {
	SaveSnapshot(c *types.CapturedRequest) error
	LoadSnapshot() (*types.CapturedRequest, error)
	AppendLog(e types.LogEntry) error
	ReadLog() ([]types.LogEntry, error)

	SnapshotPath() string
	LogPath() string
}
