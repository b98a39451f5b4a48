// Package nodeconf manages the node's persistent configuration file
// (bitcoin.conf). Edits are staged in memory, validated against closed
// option sets, and applied with a backup-first atomic rewrite that
// preserves comments and unknown keys byte for byte.
package nodeconf

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GabrielVF/NodePulse/logger"
	"github.com/sirupsen/logrus"
)

var log = logger.Logger

var (
	// ErrUnknownOption rejects staging a key outside the catalogue.
	ErrUnknownOption = errors.New("unknown configuration option")
	// ErrInvalidValue rejects a value outside an option's closed set.
	ErrInvalidValue = errors.New("value not in the option's allowed set")
	// ErrFileNotWritable means the configuration file cannot be rewritten.
	ErrFileNotWritable = errors.New("configuration file not writable")
	// ErrBackupFailed aborts an apply before any destructive write.
	ErrBackupFailed = errors.New("configuration backup failed")
)

// Change is one entry of the staged diff.
type Change struct {
	Key     string
	Current string // empty when the key is absent from the file
	Pending string
}

// Manager owns the configuration file and the in-memory pending
// change-set. Pending values never touch disk until Apply.
type Manager struct {
	mutex   sync.Mutex
	path    string
	current map[string]string
	pending map[string]string

	// now is swappable for deterministic backup names in tests.
	now func() time.Time
}

// NewManager creates a manager for the configuration file at path. The
// file is read lazily; a missing file reads as empty.
func NewManager(path string) *Manager {
	return &Manager{
		path:    path,
		current: make(map[string]string),
		pending: make(map[string]string),
		now:     time.Now,
	}
}

// Path returns the managed file's location.
func (m *Manager) Path() string { return m.path }

// ReadCurrent parses the file's key=value lines, ignoring comments and
// blank lines, and returns the settings map.
func (m *Manager) ReadCurrent() (map[string]string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.readLocked(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(m.current))
	for k, v := range m.current {
		out[k] = v
	}
	return out, nil
}

// readLocked refreshes m.current from disk. Caller holds the mutex.
func (m *Manager) readLocked() error {
	settings := make(map[string]string)

	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			// No file yet: everything reads as default.
			m.current = settings
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", m.path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		settings[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", m.path, err)
	}

	m.current = settings
	return nil
}

// CurrentValue returns the effective value for an editable key: the
// pending value if staged, else the file value, else the default.
func (m *Manager) CurrentValue(key string) (string, error) {
	opt, ok := OptionFor(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownOption, key)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if v, staged := m.pending[key]; staged {
		return v, nil
	}
	if v, present := m.current[key]; present {
		return v, nil
	}
	return opt.Default, nil
}

// StageChange validates value against the option's closed set and
// stores it in the pending set. No disk interaction happens here.
func (m *Manager) StageChange(key, value string) error {
	opt, ok := OptionFor(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, key)
	}
	if !opt.allows(value) {
		return fmt.Errorf("%w: %s=%s (allowed: %s)",
			ErrInvalidValue, key, value, strings.Join(opt.Allowed, ", "))
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.pending[key] = value
	log.WithFields(logrus.Fields{
		"key":   key,
		"value": value,
	}).Debug("Staged configuration change")
	return nil
}

// Diff returns the staged changes in catalogue order, pairing each
// pending value with the value currently on disk.
func (m *Manager) Diff() []Change {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	changes := make([]Change, 0, len(m.pending))
	for _, opt := range Options {
		pending, staged := m.pending[opt.Key]
		if !staged {
			continue
		}
		changes = append(changes, Change{
			Key:     opt.Key,
			Current: m.current[opt.Key],
			Pending: pending,
		})
	}

	// Staged keys are always catalogue keys, so catalogue order covers
	// everything; keep a deterministic fallback anyway.
	sort.SliceStable(changes, func(i, j int) bool { return orderOf(changes[i].Key) < orderOf(changes[j].Key) })
	return changes
}

func orderOf(key string) int {
	for i, opt := range Options {
		if opt.Key == key {
			return i
		}
	}
	return len(Options)
}

// PendingCount returns the number of staged keys.
func (m *Manager) PendingCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.pending)
}

// Reset clears the pending set without touching disk.
func (m *Manager) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.pending = make(map[string]string)
}

// Reload discards the pending set and re-reads current values from
// disk, recovering from external edits.
func (m *Manager) Reload() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.pending = make(map[string]string)
	return m.readLocked()
}

// Apply writes the staged changes to the file. Order of operations:
// timestamped backup first (abort on failure, original untouched), then
// a line-preserving rewrite to a temp file, then rename over the
// original. Returns the backup path, empty for the empty-pending no-op.
func (m *Manager) Apply() (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(m.pending) == 0 {
		return "", nil
	}

	if err := m.readLocked(); err != nil {
		return "", err
	}

	original, err := os.ReadFile(m.path)
	exists := true
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %v", ErrFileNotWritable, err)
		}
		exists = false
		original = nil
	}

	backupPath := ""
	if exists {
		backupPath = fmt.Sprintf("%s.backup.%s", m.path, m.now().Format("20060102_150405"))
		if err := writeFileLike(backupPath, original, m.path); err != nil {
			log.WithError(err).Error("Configuration backup failed, aborting apply")
			return "", fmt.Errorf("%w: %v", ErrBackupFailed, err)
		}
	}

	rewritten := rewrite(original, m.pending)

	tmpPath := m.path + ".tmp"
	if err := writeFileLike(tmpPath, rewritten, m.path); err != nil {
		return backupPath, fmt.Errorf("%w: %v", ErrFileNotWritable, err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return backupPath, fmt.Errorf("%w: %v", ErrFileNotWritable, err)
	}

	log.WithFields(logrus.Fields{
		"path":    m.path,
		"backup":  backupPath,
		"changes": len(m.pending),
	}).Info("Configuration changes applied")

	m.pending = make(map[string]string)
	return backupPath, m.readLocked()
}

// writeFileLike writes data to path with the original file's mode when
// available, falling back to 0644.
func writeFileLike(path string, data []byte, modeFrom string) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(modeFrom); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, data, mode)
}

// rewrite produces the new file content: comments, blank lines, unknown
// keys and ordering are preserved; staged keys are replaced in place,
// and staged keys absent from the file are appended at the end.
func rewrite(original []byte, pending map[string]string) []byte {
	var out strings.Builder
	replaced := make(map[string]bool, len(pending))

	if len(original) > 0 {
		scanner := bufio.NewScanner(strings.NewReader(string(original)))
		for scanner.Scan() {
			line := scanner.Text()
			trimmed := strings.TrimSpace(line)

			if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
				if key, _, ok := strings.Cut(trimmed, "="); ok {
					key = strings.TrimSpace(key)
					if value, staged := pending[key]; staged {
						fmt.Fprintf(&out, "%s=%s\n", key, value)
						replaced[key] = true
						continue
					}
				}
			}

			out.WriteString(line)
			out.WriteByte('\n')
		}
	}

	appended := false
	for _, opt := range Options {
		value, staged := pending[opt.Key]
		if !staged || replaced[opt.Key] {
			continue
		}
		if !appended {
			out.WriteString("\n# Added by NodePulse\n")
			appended = true
		}
		fmt.Fprintf(&out, "%s=%s\n", opt.Key, value)
	}

	return []byte(out.String())
}
