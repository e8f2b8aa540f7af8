package badger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/qarchive/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
	assert.NoError(t, backend.Sync())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "archive")
	backend, err := OpenBackend(tmpDir, false, nil)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
	assert.NoError(t, backend.Sync())

	info, err := os.Stat(tmpDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(tmpFile, []byte("x"), 0644))

	backend, err := OpenBackend(tmpFile, false, nil)
	if backend != nil {
		backend.Close()
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)

	assert.False(t, backend.IsClosed())
	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
}

func TestWithTx(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	defer backend.Close()

	err = backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set([]byte("k"), []byte("v")); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	require.NoError(t, err)

	var got []byte
	err = backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte("k"))
		if err != nil {
			return err
		}
		got, err = item.ValueCopy(nil)
		return err
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestEnsureFormat(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	defer backend.Close()

	// Empty database gets the marker; a second check accepts it.
	require.NoError(t, backend.ensureFormat())
	require.NoError(t, backend.ensureFormat())

	empty, err := backend.isEmpty()
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestEnsureFormat_RecordsWithoutMarker(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	defer backend.Close()

	key, err := makeRecordKey(core.QuestionKey(1))
	require.NoError(t, err)
	setRaw(t, backend, key, []byte("junk"))

	err = backend.ensureFormat()
	assert.ErrorContains(t, err, "without format marker")
}

func TestKeys(t *testing.T) {
	qKey, err := makeRecordKey(core.QuestionKey(258))
	require.NoError(t, err)
	assert.Equal(t, append([]byte("q:"), 0, 0, 0, 0, 0, 0, 1, 2), qKey)

	id, ok := parseRecordID([]byte(questionPrefix), qKey)
	assert.True(t, ok)
	assert.Equal(t, core.ID(258), id)

	_, ok = parseRecordID([]byte(questionPrefix), qKey[:5])
	assert.False(t, ok)

	_, err = makeRecordKey(core.Key{Kind: 0, ID: 1})
	assert.ErrorIs(t, err, core.ErrInvalidKind)

	// Index keys sort by question, then answer.
	a := makeAnswerQuestionKey(1, 900)
	b := makeAnswerQuestionKey(2, 5)
	assert.Less(t, string(a), string(b))
	assert.Equal(t, makePartialAnswerQuestionKey(1), a[:len(answerQuestionPrefix)+idSize])
}

func setRaw(t *testing.T, backend *Backend, key, value []byte) {
	t.Helper()
	err := backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	require.NoError(t, err)
}
