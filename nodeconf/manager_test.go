package nodeconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConf = `# Bitcoin Core configuration
# maintained by hand, do not lose these comments

prune=0
maxconnections=125

# RPC settings
server=0
rpcport=8332
`

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bitcoin.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func fixedClock() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestReadCurrentParsesKeyValues(t *testing.T) {
	m := NewManager(writeConf(t, sampleConf))

	settings, err := m.ReadCurrent()
	require.NoError(t, err)

	assert.Equal(t, "0", settings["prune"])
	assert.Equal(t, "125", settings["maxconnections"])
	assert.Equal(t, "0", settings["server"])
	assert.Equal(t, "8332", settings["rpcport"], "unknown keys should still be readable")
	assert.NotContains(t, settings, "# Bitcoin Core configuration", "comments are not settings")
}

func TestReadCurrentMissingFileReadsEmpty(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent.conf"))

	settings, err := m.ReadCurrent()
	require.NoError(t, err)
	assert.Empty(t, settings)
}

func TestStageChangeValidatesAgainstClosedSet(t *testing.T) {
	m := NewManager(writeConf(t, sampleConf))
	_, err := m.ReadCurrent()
	require.NoError(t, err)

	err = m.StageChange("maxconnections", "999")
	assert.ErrorIs(t, err, ErrInvalidValue, "999 is outside {10,25,50,125}")
	assert.Zero(t, m.PendingCount(), "rejected value must not be staged")

	require.NoError(t, m.StageChange("maxconnections", "50"))

	diff := m.Diff()
	require.Len(t, diff, 1)
	assert.Equal(t, Change{Key: "maxconnections", Current: "125", Pending: "50"}, diff[0])
}

func TestStageChangeUnknownKey(t *testing.T) {
	m := NewManager(writeConf(t, sampleConf))

	err := m.StageChange("rpcport", "18332")
	assert.ErrorIs(t, err, ErrUnknownOption, "keys outside the catalogue are not editable")
}

func TestApplyPreservesCommentsAndUnknownKeys(t *testing.T) {
	path := writeConf(t, sampleConf)
	m := NewManager(path)
	m.now = fixedClock
	_, err := m.ReadCurrent()
	require.NoError(t, err)

	require.NoError(t, m.StageChange("maxconnections", "50"))
	require.NoError(t, m.StageChange("dbcache", "1000"))

	backup, err := m.Apply()
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	// Backup holds the pre-apply content.
	backupData, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, sampleConf, string(backupData), "backup must be the original file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "# maintained by hand, do not lose these comments")
	assert.Contains(t, content, "maxconnections=50", "staged key should be replaced in place")
	assert.Contains(t, content, "rpcport=8332", "unknown keys survive the rewrite")
	assert.Contains(t, content, "dbcache=1000", "keys absent from the file are appended")
	assert.NotContains(t, content, "maxconnections=125")

	assert.Zero(t, m.PendingCount(), "pending set clears on successful apply")
}

func TestApplyEmptyPendingIsNoOp(t *testing.T) {
	path := writeConf(t, sampleConf)
	m := NewManager(path)

	backup, err := m.Apply()
	require.NoError(t, err)
	assert.Empty(t, backup, "no backup for the empty no-op")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleConf, string(data))
}

func TestApplyBackupFailureLeavesFileUntouched(t *testing.T) {
	path := writeConf(t, sampleConf)
	m := NewManager(path)
	m.now = fixedClock

	require.NoError(t, m.StageChange("prune", "4096"))

	// Occupy the deterministic backup path with a directory, making the
	// backup write fail regardless of user privileges.
	backupPath := path + ".backup." + fixedClock().Format("20060102_150405")
	require.NoError(t, os.Mkdir(backupPath, 0755))

	_, err := m.Apply()
	require.ErrorIs(t, err, ErrBackupFailed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleConf, string(data), "original must be byte-identical after a failed backup")
	assert.Equal(t, 1, m.PendingCount(), "pending set survives a failed apply")
}

func TestApplyToAbsentFileCreatesIt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bitcoin.conf")
	m := NewManager(path)
	m.now = fixedClock

	require.NoError(t, m.StageChange("server", "1"))

	backup, err := m.Apply()
	require.NoError(t, err)
	assert.Empty(t, backup, "nothing to back up when the file does not exist yet")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "server=1")
}

func TestReloadDiscardsPending(t *testing.T) {
	path := writeConf(t, sampleConf)
	m := NewManager(path)
	_, err := m.ReadCurrent()
	require.NoError(t, err)

	require.NoError(t, m.StageChange("dbcache", "2000"))
	require.Equal(t, 1, m.PendingCount())

	// External edit lands on disk.
	require.NoError(t, os.WriteFile(path, []byte("prune=10240\n"), 0644))

	require.NoError(t, m.Reload())
	assert.Zero(t, m.PendingCount(), "reload drops staged changes")

	v, err := m.CurrentValue("prune")
	require.NoError(t, err)
	assert.Equal(t, "10240", v, "reload picks up external edits")
}

func TestCurrentValueFallsBackToDefault(t *testing.T) {
	m := NewManager(writeConf(t, "prune=0\n"))
	_, err := m.ReadCurrent()
	require.NoError(t, err)

	v, err := m.CurrentValue("dbcache")
	require.NoError(t, err)
	assert.Equal(t, "450", v, "absent key reads as the documented default")

	require.NoError(t, m.StageChange("dbcache", "300"))
	v, err = m.CurrentValue("dbcache")
	require.NoError(t, err)
	assert.Equal(t, "300", v, "staged value wins over the default")
}

func TestDiffOrderFollowsCatalogue(t *testing.T) {
	m := NewManager(writeConf(t, sampleConf))
	_, err := m.ReadCurrent()
	require.NoError(t, err)

	require.NoError(t, m.StageChange("server", "1"))
	require.NoError(t, m.StageChange("prune", "4096"))

	diff := m.Diff()
	require.Len(t, diff, 2)
	assert.Equal(t, "prune", diff[0].Key, "diff is reported in catalogue order")
	assert.Equal(t, "server", diff[1].Key)
}
