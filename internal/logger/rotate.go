package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

// dailyFile is an append-only file that is renamed to <path>.<day> at the
// first write after local midnight. Rotated files older than retention days
// are removed at each rotation.
type dailyFile struct {
	mu        sync.Mutex
	path      string
	retention int
	now       func() time.Time

	file *os.File
	day  string
}

func openDaily(path string, retention int, now func() time.Time) (*dailyFile, error) {
	if now == nil {
		now = time.Now
	}
	f := &dailyFile{
		path:      path,
		retention: retention,
		now:       now,
	}

	today := now().Format(dayLayout)
	if info, err := os.Stat(path); err == nil {
		// left over from a previous day
		if day := info.ModTime().In(now().Location()).Format(dayLayout); day != today {
			if err := f.archive(day); err != nil {
				return nil, err
			}
		}
	}

	if err := f.open(today); err != nil {
		return nil, err
	}
	f.cleanup(now())
	return f, nil
}

func (f *dailyFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return 0, os.ErrClosed
	}

	now := f.now()
	if today := now.Format(dayLayout); today != f.day {
		if err := f.rotate(today); err != nil {
			return 0, err
		}
		f.cleanup(now)
	}
	return f.file.Write(p)
}

func (f *dailyFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func (f *dailyFile) rotate(today string) error {
	if err := f.file.Close(); err != nil {
		return err
	}
	f.file = nil
	if err := f.archive(f.day); err != nil {
		return err
	}
	return f.open(today)
}

func (f *dailyFile) open(day string) error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	f.file = file
	f.day = day
	return nil
}

func (f *dailyFile) archive(day string) error {
	target := f.path + "." + day
	for i := 1; ; i++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		target = fmt.Sprintf("%s.%s.%d", f.path, day, i)
	}
	return os.Rename(f.path, target)
}

func (f *dailyFile) cleanup(now time.Time) {
	if f.retention <= 0 {
		return
	}

	matches, err := filepath.Glob(f.path + ".*")
	if err != nil {
		return
	}

	y, m, d := now.Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -f.retention)
	for _, match := range matches {
		suffix := strings.TrimPrefix(match, f.path+".")
		if len(suffix) < len(dayLayout) {
			continue
		}
		day, err := time.ParseInLocation(dayLayout, suffix[:len(dayLayout)], now.Location())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			_ = os.Remove(match)
		}
	}
}
