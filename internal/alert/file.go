package alert

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/withObsrvr/obsrvr-table-sync/internal/util"
)

// FileBackup keeps a local copy of every alert.
type FileBackup struct {
	dir string
}

// NewFileBackup creates the backup directory if needed.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./alerts"
	}
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileBackup{dir: dir}, nil
}

// Save writes msg as {timestamp}_{id}.json.
func (f *FileBackup) Save(msg *Message) (string, error) {
	filename := fmt.Sprintf("%s_%s.json", msg.CreatedAt.Format("20060102T150405Z"), msg.ID)
	path := filepath.Join(f.dir, filename)

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	slog.Debug("alert backed up", "component", "alert", "path", path)
	return path, nil
}
