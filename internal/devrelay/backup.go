package devrelay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

const (
	backupPrefix    = "devrelay-backup-"
	backupExt       = ".jsonl"
	exportBatchSize = 500
)

// Export writes every stored event to w as one JSON object per line, newest
// first. It returns the number of events written.
func (r *Relay) Export(ctx context.Context, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	seen := make(map[string]struct{})
	var until *nostr.Timestamp

	for {
		if err := ctx.Err(); err != nil {
			return len(seen), err
		}

		batch, err := r.QueryEvents(ctx, nostr.Filter{Limit: exportBatchSize, Until: until})
		if err != nil {
			return len(seen), err
		}

		added := 0
		oldest := nostr.Timestamp(0)
		for _, evt := range batch {
			if oldest == 0 || evt.CreatedAt < oldest {
				oldest = evt.CreatedAt
			}
			if _, ok := seen[evt.ID]; ok {
				continue
			}
			seen[evt.ID] = struct{}{}
			added++

			line, err := json.Marshal(evt)
			if err != nil {
				return len(seen), fmt.Errorf("failed to encode event %s: %w", evt.ID, err)
			}
			bw.Write(line)
			bw.WriteByte('\n')
		}

		// a page made only of already exported events means the same second
		// has been fully drained
		if added == 0 {
			break
		}
		if len(batch) < exportBatchSize {
			break
		}
		if until != nil && *until == oldest {
			oldest--
		}
		until = &oldest
	}

	if err := bw.Flush(); err != nil {
		return len(seen), fmt.Errorf("failed to write backup: %w", err)
	}
	return len(seen), nil
}

// Import reads events written by Export and stores those with a valid
// signature. Events the reject hooks refuse are skipped.
func (r *Relay) Import(ctx context.Context, rd io.Reader) (int, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	stored := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stored, err
		}

		var evt nostr.Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return stored, fmt.Errorf("line %d: invalid event: %w", lineNo, err)
		}
		if ok, _ := evt.CheckSignature(); !ok {
			r.logger.Warn("skipping event with bad signature", "event_id", evt.ID, "line", lineNo)
			continue
		}
		if err := r.StoreEvent(ctx, &evt); err != nil {
			r.logger.Debug("skipping event", "event_id", evt.ID, "error", err)
			continue
		}
		stored++
	}
	if err := scanner.Err(); err != nil {
		return stored, fmt.Errorf("failed to read backup: %w", err)
	}
	return stored, nil
}

// Backup exports the store into destPath
func (r *Relay) Backup(ctx context.Context, destPath string) error {
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	n, err := r.Export(ctx, f)
	if err != nil {
		r.logger.Error("backup failed", "destination", destPath, "error", err)
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync backup file: %w", err)
	}

	r.logger.Info("backup completed",
		"destination", destPath,
		"events", n,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Restore imports a backup file produced by Backup
func (r *Relay) Restore(ctx context.Context, backupPath string) (int, error) {
	f, err := os.Open(backupPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	n, err := r.Import(ctx, f)
	if err != nil {
		return n, err
	}
	r.logger.Info("restore completed", "backup", backupPath, "events", n)
	return n, nil
}

// BackupFileName returns the timestamped name used for periodic backups
func BackupFileName(t time.Time) string {
	return backupPrefix + t.UTC().Format("20060102-150405") + backupExt
}

// PeriodicBackup writes a backup of the relay into dir every interval and
// drops backups older than maxAge when maxAge is positive.
type PeriodicBackup struct {
	relay    *Relay
	dir      string
	interval time.Duration
	maxAge   time.Duration
}

// NewPeriodicBackup creates a periodic backup runner
func NewPeriodicBackup(r *Relay, dir string, interval, maxAge time.Duration) *PeriodicBackup {
	return &PeriodicBackup{relay: r, dir: dir, interval: interval, maxAge: maxAge}
}

// Run blocks until ctx ends
func (p *PeriodicBackup) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.relay.logger.Info("periodic backup started", "directory", p.dir, "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			// final snapshot so nothing since the last tick is lost
			p.relay.Backup(context.Background(), filepath.Join(p.dir, BackupFileName(time.Now())))
			return
		case now := <-ticker.C:
			if err := p.relay.Backup(ctx, filepath.Join(p.dir, BackupFileName(now))); err != nil {
				continue
			}
			if p.maxAge > 0 {
				if _, err := CleanOldBackups(p.dir, p.maxAge, now); err != nil {
					p.relay.logger.Warn("failed to clean old backups", "error", err)
				}
			}
		}
	}
}

// CleanOldBackups removes backup files in dir modified before now-maxAge and
// returns how many were deleted.
func CleanOldBackups(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := now.Add(-maxAge)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !isBackupFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}

func isBackupFile(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupExt)
}
