package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// BackupEntry is one Redis key's exported {type, value, TTL} (spec §4.6).
type BackupEntry struct {
	Key   string        `json:"key"`
	Type  string        `json:"type"`
	Value json.RawMessage `json:"value"`
	TTL   time.Duration `json:"ttl"`
}

// Backup exports and restores a run's telemetry keys to/from
// static/record_redis_backup/ (spec §4.6, §6). Writes are atomic
// (temp file + fsync + rename), matching the teacher's
// internal/recovery/state durable-write idiom.
type Backup struct {
	rdb *redis.Client
	dir string
}

// NewBackup points at the on-disk backup directory (default
// static/record_redis_backup/).
func NewBackup(rdb *redis.Client, dir string) *Backup {
	if dir == "" {
		dir = filepath.Join("static", "record_redis_backup")
	}
	return &Backup{rdb: rdb, dir: dir}
}

// Export writes every key under recordBackupIndex to a JSON backup file.
func (b *Backup) Export(ctx context.Context, recordBackupIndex string) error {
	var entries []BackupEntry
	iter := b.rdb.Scan(ctx, 0, recordBackupIndex+":*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		entry, err := b.exportKey(ctx, key)
		if err != nil {
			return fmt.Errorf("telemetry: exporting key %q: %w", key, err)
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return err
	}

	// Deterministic file content: sort by key before marshaling.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomicDurable(b.path(recordBackupIndex), data, 0o644)
}

func (b *Backup) exportKey(ctx context.Context, key string) (BackupEntry, error) {
	typ, err := b.rdb.Type(ctx, key).Result()
	if err != nil {
		return BackupEntry{}, err
	}
	ttl, err := b.rdb.TTL(ctx, key).Result()
	if err != nil {
		return BackupEntry{}, err
	}

	var raw any
	switch typ {
	case "string":
		raw, err = b.rdb.Get(ctx, key).Result()
	case "list":
		raw, err = b.rdb.LRange(ctx, key, 0, -1).Result()
	case "hash":
		raw, err = b.rdb.HGetAll(ctx, key).Result()
	default:
		return BackupEntry{}, fmt.Errorf("telemetry: unsupported redis type %q for key %q", typ, key)
	}
	if err != nil {
		return BackupEntry{}, err
	}

	value, err := json.Marshal(raw)
	if err != nil {
		return BackupEntry{}, err
	}
	return BackupEntry{Key: key, Type: typ, Value: value, TTL: ttl}, nil
}

// Restore reads a run's backup file and replays every entry back into
// Redis with its original TTL (spec §4.6, §6). It runs when /restore_record
// calls it; a miss in the record read RPCs does not trigger it.
func (b *Backup) Restore(ctx context.Context, recordBackupIndex string) error {
	data, err := os.ReadFile(b.path(recordBackupIndex))
	if err != nil {
		return fmt.Errorf("telemetry: reading backup for %q: %w", recordBackupIndex, err)
	}
	var entries []BackupEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	for _, e := range entries {
		if err := b.restoreEntry(ctx, e); err != nil {
			return fmt.Errorf("telemetry: restoring key %q: %w", e.Key, err)
		}
	}
	return nil
}

func (b *Backup) restoreEntry(ctx context.Context, e BackupEntry) error {
	switch e.Type {
	case "string":
		var s string
		if err := json.Unmarshal(e.Value, &s); err != nil {
			return err
		}
		return b.rdb.Set(ctx, e.Key, s, e.TTL).Err()
	case "list":
		var items []string
		if err := json.Unmarshal(e.Value, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		args := make([]any, len(items))
		for i, v := range items {
			args[i] = v
		}
		pipe := b.rdb.Pipeline()
		pipe.RPush(ctx, e.Key, args...)
		pipe.Expire(ctx, e.Key, e.TTL)
		_, err := pipe.Exec(ctx)
		return err
	case "hash":
		var m map[string]string
		if err := json.Unmarshal(e.Value, &m); err != nil {
			return err
		}
		fields := make(map[string]any, len(m))
		for k, v := range m {
			fields[k] = v
		}
		pipe := b.rdb.Pipeline()
		pipe.HSet(ctx, e.Key, fields)
		pipe.Expire(ctx, e.Key, e.TTL)
		_, err := pipe.Exec(ctx)
		return err
	default:
		return fmt.Errorf("telemetry: unsupported backup entry type %q", e.Type)
	}
}

// Prune removes backup files for records the orchestrator no longer
// considers live (spec §4.7: "garbage-collect stale backup files").
func (b *Backup) Prune(liveRecordBackupIndexes []string) error {
	live := make(map[string]bool, len(liveRecordBackupIndexes))
	for _, idx := range liveRecordBackupIndexes {
		live[BackupFileName(idx)] = true
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || live[e.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backup) path(recordBackupIndex string) string {
	return filepath.Join(b.dir, BackupFileName(recordBackupIndex))
}

// writeFileAtomicDurable writes data to path via a temp file, fsync, and
// atomic rename, then fsyncs the containing directory — the exact
// durability idiom internal/recovery/state/store.go uses for checkpoint
// writes, applied here to telemetry backup files.
func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
