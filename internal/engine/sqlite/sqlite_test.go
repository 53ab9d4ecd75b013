package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuku/connpool/internal/engine"
	"github.com/yuku/connpool/internal/engine/sqlite"
)

func openMemory(t *testing.T) engine.Handle {
	t.Helper()
	h, err := (&sqlite.Engine{}).Open(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestEngine_Open(t *testing.T) {
	t.Parallel()

	t.Run("opens a file database", func(t *testing.T) {
		// Given
		path := filepath.Join(t.TempDir(), "test.db")

		// When
		h, err := (&sqlite.Engine{}).Open(path)

		// Then
		require.NoError(t, err)
		defer h.Close()
		assert.NoError(t, h.Ping())
		_, err = h.Exec("CREATE TABLE t (id INTEGER)")
		assert.NoError(t, err)
		assert.FileExists(t, path)
	})

	t.Run("fails for a missing directory", func(t *testing.T) {
		// Given
		path := filepath.Join(t.TempDir(), "missing", "dir", "test.db")

		// When
		_, err := (&sqlite.Engine{}).Open(path)

		// Then
		var ee *engine.Error
		require.ErrorAs(t, err, &ee)
		assert.NotZero(t, ee.Code)
	})

	t.Run("memory databases are private to each handle", func(t *testing.T) {
		// Given
		a := openMemory(t)
		b := openMemory(t)
		_, err := a.Exec("CREATE TABLE only_in_a (id INTEGER)")
		require.NoError(t, err)

		// When
		_, err = b.Query("SELECT * FROM only_in_a")

		// Then
		assert.Error(t, err)
	})
}

func TestHandle_ExecQuery(t *testing.T) {
	t.Parallel()

	h := openMemory(t)
	_, err := h.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, price REAL, data BLOB)")
	require.NoError(t, err)

	t.Run("exec reports affected rows and last insert id", func(t *testing.T) {
		res, err := h.Exec("INSERT INTO items (name, price, data) VALUES (?, ?, ?)", "apple", 1.5, []byte{1, 2})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.RowsAffected)
		assert.Equal(t, int64(1), res.LastInsertID)
	})

	t.Run("query materializes all values", func(t *testing.T) {
		_, err := h.Exec("INSERT INTO items (name, price, data) VALUES (?, ?, ?)", nil, 2.25, nil)
		require.NoError(t, err)

		res, err := h.Query("SELECT id, name, price, data FROM items ORDER BY id")
		require.NoError(t, err)

		assert.Equal(t, []string{"id", "name", "price", "data"}, res.Columns)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, engine.Integer(1), res.Rows[0][0])
		assert.Equal(t, engine.Text("apple"), res.Rows[0][1])
		assert.Equal(t, engine.Real(1.5), res.Rows[0][2])
		assert.Equal(t, engine.Blob([]byte{1, 2}), res.Rows[0][3])
		assert.True(t, res.Rows[1][1].IsNull())
		assert.True(t, res.Rows[1][3].IsNull())
	})

	t.Run("syntax errors carry the engine code", func(t *testing.T) {
		_, err := h.Exec("SELEC nonsense")

		var ee *engine.Error
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, engine.CodeError, ee.Code&0xff)
	})
}

func TestHandle_Prepare(t *testing.T) {
	t.Parallel()

	// Given
	h := openMemory(t)
	_, err := h.Exec("CREATE TABLE kv (k TEXT, v INTEGER)")
	require.NoError(t, err)

	st, err := h.Prepare("INSERT INTO kv (k, v) VALUES (?, ?)")
	require.NoError(t, err)
	assert.Equal(t, 2, st.NumInput())

	// When
	for i := range 3 {
		_, err := st.Exec([]any{"key", int64(i)})
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())

	// Then
	res, err := h.Query("SELECT SUM(v) FROM kv")
	require.NoError(t, err)
	assert.Equal(t, engine.Integer(3), res.Rows[0][0])
}

func TestHandle_Transaction(t *testing.T) {
	t.Parallel()

	t.Run("commit persists writes", func(t *testing.T) {
		h := openMemory(t)
		_, err := h.Exec("CREATE TABLE t (id INTEGER)")
		require.NoError(t, err)

		require.NoError(t, h.Begin())
		_, err = h.Exec("INSERT INTO t VALUES (1)")
		require.NoError(t, err)
		require.NoError(t, h.Commit())

		res, err := h.Query("SELECT COUNT(*) FROM t")
		require.NoError(t, err)
		assert.Equal(t, engine.Integer(1), res.Rows[0][0])
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		h := openMemory(t)
		_, err := h.Exec("CREATE TABLE t (id INTEGER)")
		require.NoError(t, err)

		require.NoError(t, h.Begin())
		_, err = h.Exec("INSERT INTO t VALUES (1)")
		require.NoError(t, err)
		require.NoError(t, h.Rollback())

		res, err := h.Query("SELECT COUNT(*) FROM t")
		require.NoError(t, err)
		assert.Equal(t, engine.Integer(0), res.Rows[0][0])
	})

	t.Run("commit without begin is misuse", func(t *testing.T) {
		h := openMemory(t)

		var ee *engine.Error
		require.ErrorAs(t, h.Commit(), &ee)
		assert.Equal(t, engine.CodeMisuse, ee.Code)
	})
}

func TestHandle_Size(t *testing.T) {
	t.Parallel()

	// Given
	h := openMemory(t)
	sizer, ok := h.(engine.Sizer)
	require.True(t, ok)
	before, err := sizer.Size()
	require.NoError(t, err)

	// When
	_, err = h.Exec("CREATE TABLE grown (v TEXT)")
	require.NoError(t, err)
	after, err := sizer.Size()

	// Then
	require.NoError(t, err)
	assert.Greater(t, after, before)
}
