package sqlstep

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

func sqlite(t *testing.T, b vars.Bindings, query string) (any, error) {
	t.Helper()
	st, err := NewSQLite(step.Spec{Action: "sqlite", Body: map[string]any{
		"request": map[string]any{"conf": "test.db", "query": query},
	}}, nil)
	require.NoError(t, err)
	res, err := st.Action(context.Background(), &step.Env{}, b)
	return res.Output, err
}

func TestSQLite(t *testing.T) {
	dir := t.TempDir()
	b := vars.Bindings{vars.CurrentDir: dir, "user": "alice"}

	out, err := sqlite(t, b, "create table users(id integer primary key, name text not null)")
	require.NoError(t, err)
	assert.Nil(t, out, "statements without a result set return nothing")
	_, err = os.Stat(filepath.Join(dir, "test.db"))
	require.NoError(t, err, "the file is relative to CURRENT_DIR")

	_, err = sqlite(t, b, "insert into users(id, name) values (1, '{{ user }}'), (2, 'bob')")
	require.NoError(t, err)

	out, err = sqlite(t, b, "select count(*) from users")
	require.NoError(t, err)
	assert.EqualValues(t, 2, out)

	out, err = sqlite(t, b, "select id, name from users where id = 1")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "alice"}, out)

	out, err = sqlite(t, b, "select name from users order by id")
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"alice"}, []any{"bob"}}, out)

	out, err = sqlite(t, b, "select name from users where id = 42")
	require.NoError(t, err)
	assert.Equal(t, []any{}, out)
}

func TestSQLite_QueryError(t *testing.T) {
	dir := t.TempDir()
	_, err := sqlite(t, vars.Bindings{vars.CurrentDir: dir}, "select * from missing")
	assert.ErrorContains(t, err, "query")
}

func TestNew_Errors(t *testing.T) {
	_, err := NewPostgres(step.Spec{Body: "select 1"}, nil)
	assert.Error(t, err)

	_, err = NewPostgres(step.Spec{Body: map[string]any{}}, nil)
	assert.ErrorContains(t, err, "missing 'request'")

	_, err = NewPostgres(step.Spec{Body: map[string]any{"request": map[string]any{"query": "select 1"}}}, nil)
	assert.ErrorContains(t, err, "missing 'conf'")

	_, err = NewPostgres(step.Spec{Body: map[string]any{"request": map[string]any{"conf": "x"}}}, nil)
	assert.ErrorContains(t, err, "missing 'query'")
}

func TestPostgresDSN(t *testing.T) {
	st, err := NewPostgres(step.Spec{Body: map[string]any{"request": map[string]any{
		"conf":  map[string]any{"host": "{{ host }}", "port": 5432, "database": "test", "user": "o'neil"},
		"query": "select 1",
	}}}, nil)
	require.NoError(t, err)

	dsn, err := st.(*query).dsn(&step.Env{}, vars.Bindings{"host": "db"})
	require.NoError(t, err)
	assert.Equal(t, `dbname='test' host='db' port='5432' user='o\'neil'`, dsn)

	st, err = NewPostgres(step.Spec{Body: map[string]any{"request": map[string]any{
		"conf":  "postgres://{{ user }}@localhost:5432/test",
		"query": "select 1",
	}}}, nil)
	require.NoError(t, err)
	dsn, err = st.(*query).dsn(&step.Env{}, vars.Bindings{"user": "postgres"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://postgres@localhost:5432/test", dsn)
}

func TestSQLitePath(t *testing.T) {
	assert.Equal(t, ":memory:", sqlitePath(":memory:", nil, nil))
	assert.Equal(t, "/abs/test.db", sqlitePath("/abs/test.db", nil, nil))
	assert.Equal(t, filepath.Join("project", "test.db"), sqlitePath("test.db", &step.Env{Dir: "project"}, vars.Bindings{}))
	assert.Equal(t, filepath.Join("cwd", "test.db"), sqlitePath("test.db", &step.Env{Dir: "project"}, vars.Bindings{vars.CurrentDir: "cwd"}))
}

func TestCollapse(t *testing.T) {
	assert.Equal(t, []any{}, collapse(nil))
	assert.Equal(t, 1, collapse([][]any{{1}}))
	assert.Equal(t, []any{1, "a"}, collapse([][]any{{1, "a"}}))
	assert.Equal(t, []any{[]any{1}, []any{2}}, collapse([][]any{{1}, {2}}))
}
