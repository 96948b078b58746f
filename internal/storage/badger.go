package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/dgraph-io/badger/v4"
)

// DefaultBadgerPath 回傳預設的資料目錄（XDG data home 之下）
func DefaultBadgerPath() string {
	return filepath.Join(xdg.DataHome, "debate_live", "badger")
}

// NewBadgerDB 開啟內嵌的 Badger 資料庫，path 為空時存在記憶體中
func NewBadgerDB(path string, log *slog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create badger dir: %v", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %v", err)
	}

	log.Info("Badger opened", "path", path, "in_memory", path == "")
	return db, nil
}
