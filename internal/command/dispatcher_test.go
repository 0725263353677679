// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package command

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelattribute "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"

	"remotesql/cli/internal/blob"
	"remotesql/cli/internal/envelope"
	rerrors "remotesql/cli/internal/errors"
	"remotesql/cli/internal/metrics"
	"remotesql/cli/internal/session"
	"remotesql/cli/internal/testutil"
	"remotesql/cli/internal/transport"
)

type env struct {
	srv      *testutil.Server
	sessions *session.Manager
	spans    *tracetest.InMemoryExporter
	metrics  *metrics.Collector
	d        *Dispatcher
}

func setup(t *testing.T, opts Options) *env {
	t.Helper()

	srv := testutil.NewServer(t)
	l := testutil.Logger(t)
	m := metrics.New()
	tr := transport.New(transport.Options{ConnectTimeout: time.Second, ReadTimeout: 5 * time.Second}, l, m)
	sessions := session.NewManager(tr, session.NewMemoryStore(), l, "test")

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(testutil.Ctx(t)) })

	c, err := sessions.Connect(testutil.Ctx(t), credentials(srv, testutil.Password))
	require.NoError(t, err)

	d := New(c, Deps{
		Transport: tr,
		Sessions:  sessions,
		Logger:    l,
		Metrics:   m,
		Tracer:    tp.Tracer(TracerName),
	}, opts)

	return &env{srv: srv, sessions: sessions, spans: exp, metrics: m, d: d}
}

func credentials(srv *testutil.Server, password string) session.Credentials {
	return session.Credentials{
		ServerURL: srv.URL(),
		Username:  "alice",
		Database:  "sales",
		Password:  []byte(password),
	}
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	return b
}

func requireKind(t *testing.T, err error, kind rerrors.Kind) *rerrors.E {
	t.Helper()

	require.Error(t, err)
	e, ok := rerrors.As(err)
	require.True(t, ok, "%T is not an error record", err)
	require.Equal(t, kind, e.Kind, "%v", e)
	return e
}

func TestQueryCommitClose(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	ctx := testutil.Ctx(t)
	sid := e.d.Connection().SessionID

	rc, err := e.d.ExecuteQuery(ctx, Statement{SQL: "select 1"})
	require.NoError(t, err)
	body := readAll(t, rc)

	a := envelope.NewStream(bytes.NewReader(body), http.StatusOK, "OK")
	assert.True(t, a.IsOK())
	assert.Equal(t, 1, a.RowCount())

	require.NoError(t, e.d.Commit(ctx))
	require.NoError(t, e.d.Close(ctx))
	assert.Equal(t, session.Closed, e.d.Connection().State())
	assert.Zero(t, e.srv.Connections(sid))

	err = e.d.Commit(ctx)
	requireKind(t, err, rerrors.PreconditionFailed)

	// the session survives the closed connection
	c, err := e.sessions.Connect(ctx, credentials(e.srv, ""))
	require.NoError(t, err)
	assert.Equal(t, sid, c.SessionID)
	assert.Equal(t, 1, e.srv.Calls("login"))
	assert.Equal(t, 1, e.srv.Calls("get_connection"))
}

func TestQueryParams(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{PrettyPrinting: true, MaxRows: 10})

	var p transport.Params
	p.Set("param_type_1", "INTEGER").Set("param_value_1", "42")

	rc, err := e.d.Execute(testutil.Ctx(t), Statement{SQL: "select * from t where id = ?", Prepared: true, Params: p})
	require.NoError(t, err)
	readAll(t, rc)

	forms := e.srv.Forms(ActionExecute)
	require.Len(t, forms, 1)
	assert.Equal(t, map[string]string{
		"sql":                       "select * from t where id = ?",
		"prepared_statement":        "true",
		"stored_procedure":          "false",
		"gzip_result":               "false",
		"fill_result_set_meta_data": "false",
		"pretty_printing":           "true",
		"max_rows":                  "10",
		"param_type_1":              "INTEGER",
		"param_value_1":             "42",
	}, forms[0])
}

func TestQueryGzip(t *testing.T) {
	t.Parallel()

	plain := setup(t, Options{})
	rc, err := plain.d.ExecuteQuery(testutil.Ctx(t), Statement{SQL: "select 1"})
	require.NoError(t, err)
	want := readAll(t, rc)

	e := setup(t, Options{GzipResult: true})
	rc, err = e.d.ExecuteQuery(testutil.Ctx(t), Statement{SQL: "select 1"})
	require.NoError(t, err)
	assert.Equal(t, want, readAll(t, rc))

	assert.Equal(t, "true", e.srv.Forms(ActionExecuteQuery)[0]["gzip_result"])
}

func TestDecompress(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"empty":     "",
		"one byte":  "{",
		"plain":     `{"status":"OK"}`,
		"near miss": "\x1f{}",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rc, err := decompress(io.NopCloser(strings.NewReader(body)))
			require.NoError(t, err)
			assert.Equal(t, body, string(readAll(t, rc)))
		})
	}

	t.Run("corrupt", func(t *testing.T) {
		t.Parallel()

		_, err := decompress(io.NopCloser(strings.NewReader("\x1f\x8bnot gzip")))
		requireKind(t, err, rerrors.IOFailure)
	})
}

func TestProbe(t *testing.T) {
	t.Parallel()

	large := strings.Repeat("x", envelopeProbe+1)
	rc, err := probe(io.NopCloser(strings.NewReader(large)), http.StatusOK, "OK")
	require.NoError(t, err)
	assert.Equal(t, large, string(readAll(t, rc)))

	ok := `{"status":"OK","row_count":0}`
	rc, err = probe(io.NopCloser(strings.NewReader(ok)), http.StatusOK, "OK")
	require.NoError(t, err)
	assert.Equal(t, ok, string(readAll(t, rc)))

	_, err = probe(io.NopCloser(strings.NewReader(`{"status":"FAIL","error_type":1,"error_message":"m"}`)), http.StatusOK, "OK")
	requireKind(t, err, rerrors.ProtocolFailure)

	_, err = probe(io.NopCloser(strings.NewReader("")), http.StatusOK, "OK")
	requireKind(t, err, rerrors.HTTPFailure)
}

func TestQueryFailure(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})

	_, err := e.d.ExecuteQuery(testutil.Ctx(t), Statement{SQL: "select syntax error"})
	re := requireKind(t, err, rerrors.ProtocolFailure)
	assert.Equal(t, 2, re.Type)
	assert.Contains(t, re.Message, "syntax error")

	_, err = e.d.ExecuteQuery(testutil.Ctx(t), Statement{})
	requireKind(t, err, rerrors.PreconditionFailed)
	assert.Equal(t, 1, e.srv.Calls(ActionExecuteQuery))
}

func TestQueryHTTPFailure(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	e.srv.Handle(ActionExecuteQuery, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := e.d.ExecuteQuery(testutil.Ctx(t), Statement{SQL: "select 1"})
	re := requireKind(t, err, rerrors.HTTPFailure)
	assert.Equal(t, http.StatusBadGateway, re.HTTPStatus)
}

func TestExecuteUpdate(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	ctx := testutil.Ctx(t)

	res, err := e.d.ExecuteUpdate(ctx, Statement{SQL: "update t set a = 1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)
	assert.Nil(t, res.OutParameters)

	res, err = e.d.ExecuteUpdate(ctx, Statement{SQL: "{call p(?, ?)}", StoredProcedure: true, OutParameters: []int{2}})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{2: "out-2"}, res.OutParameters)

	form := e.srv.Forms(ActionExecuteUpdate)[1]
	assert.Equal(t, "true", form["stored_procedure"])
	_, sent := form["gzip_result"]
	assert.False(t, sent)
}

func TestExecuteUpdateMissingOutParameters(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	e.srv.Handle(ActionExecuteUpdate, func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, map[string]any{"status": "OK", "row_count": 0})
	})

	_, err := e.d.ExecuteUpdate(testutil.Ctx(t), Statement{SQL: "{call p(?)}", StoredProcedure: true, OutParameters: []int{1}})
	re := requireKind(t, err, rerrors.ContractViolation)
	assert.Equal(t, rerrors.TypeContract, re.Type)
	assert.Equal(t, http.StatusOK, re.HTTPStatus)

	// no declared out parameters, nothing to enforce
	res, err := e.d.ExecuteUpdate(testutil.Ctx(t), Statement{SQL: "{call q()}", StoredProcedure: true})
	require.NoError(t, err)
	assert.Empty(t, res.OutParameters)
}

func TestSettings(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	ctx := testutil.Ctx(t)

	on, err := e.d.AutoCommit(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, e.d.SetAutoCommit(ctx, false))
	on, err = e.d.AutoCommit(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, e.d.SetReadOnly(ctx, true))
	ro, err := e.d.IsReadOnly(ctx)
	require.NoError(t, err)
	assert.True(t, ro)

	require.NoError(t, e.d.SetHoldability(ctx, 2))
	h, err := e.d.Holdability(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h)

	require.NoError(t, e.d.SetTransactionIsolation(ctx, 8))
	level, err := e.d.TransactionIsolation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, level)

	catalog, err := e.d.Catalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sales", catalog)

	schema, err := e.d.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, "public", schema)

	require.NoError(t, e.d.Rollback(ctx))
}

func TestScalarContract(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	e.srv.Handle(ActionGetCatalog, func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, map[string]any{"status": "OK"})
	})
	e.srv.Handle(ActionGetHoldability, func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, map[string]any{"status": "OK", "result": "high"})
	})

	_, err := e.d.Catalog(testutil.Ctx(t))
	requireKind(t, err, rerrors.ContractViolation)

	_, err = e.d.Holdability(testutil.Ctx(t))
	re := requireKind(t, err, rerrors.ContractViolation)
	assert.Contains(t, re.Message, ActionGetHoldability)
}

func TestSavepoints(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	ctx := testutil.Ctx(t)

	sp, err := e.d.SetSavepoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, Savepoint{ID: 1}, sp)

	named, err := e.d.SetNamedSavepoint(ctx, "before_import")
	require.NoError(t, err)
	assert.Equal(t, Savepoint{ID: 2, Name: "before_import"}, named)
	assert.Equal(t, "before_import", e.srv.Forms(ActionSetNamedSavepoint)[0]["name"])

	require.NoError(t, e.d.RollbackSavepoint(ctx, named))
	require.NoError(t, e.d.ReleaseSavepoint(ctx, sp))

	assert.Equal(t, map[string]string{"id": "2", "name": "before_import"}, e.srv.Forms(ActionRollbackSavepoint)[0])
	assert.Equal(t, map[string]string{"id": "1", "name": ""}, e.srv.Forms(ActionReleaseSavepoint)[0])
}

func TestParseSavepoint(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		res  string
		want Savepoint
		err  bool
	}{
		"object":  {res: `{"id":3,"name":"a"}`, want: Savepoint{ID: 3, Name: "a"}},
		"bare id": {res: " 7 ", want: Savepoint{ID: 7}},
		"garbage": {res: "x", err: true},
		"broken":  {res: `{"id":`, err: true},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			sp, err := parseSavepoint(ActionSetSavepoint, tc.res)
			if tc.err {
				requireKind(t, err, rerrors.ContractViolation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, sp)
		})
	}
}

func TestBatch(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	ctx := testutil.Ctx(t)

	counts, err := e.d.ExecuteBatch(ctx, []string{"insert into t values (1)", "insert into t values (2)"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, counts)

	forms := e.srv.Forms(ActionStatementExecuteBatch)
	require.Len(t, forms, 1)
	id := forms[0]["blob_id"]
	assert.True(t, strings.HasPrefix(id, "batch-"), id)
	assert.True(t, strings.HasSuffix(id, ".txt"), id)

	staged, ok := e.srv.Blob(id)
	require.True(t, ok)
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(staged))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	assert.Equal(t, []string{`"insert into t values (1)"`, `"insert into t values (2)"`}, lines)

	_, err = e.d.ExecuteBatch(ctx, nil)
	requireKind(t, err, rerrors.PreconditionFailed)
}

func TestPreparedBatch(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})

	sets := make([]transport.Params, 3)
	for i := range sets {
		sets[i].Set("param_type_1", "INTEGER").SetInt("param_value_1", i)
	}

	counts, err := e.d.ExecutePreparedBatch(testutil.Ctx(t), "insert into t values (?)", sets)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1}, counts)

	form := e.srv.Forms(ActionPreparedStatementExecuteBatch)[0]
	assert.Equal(t, "insert into t values (?)", form["sql"])

	staged, _ := e.srv.Blob(form["blob_id"])
	assert.Contains(t, string(staged), `{"param_type_1":"INTEGER","param_value_1":"2"}`)
}

func TestBatchBadResult(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	e.srv.Handle(ActionStatementExecuteBatch, func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, map[string]any{"status": "OK", "result": "not an array"})
	})

	_, err := e.d.ExecuteBatch(testutil.Ctx(t), []string{"delete from t"})
	requireKind(t, err, rerrors.ContractViolation)
}

func TestBlobs(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	ctx := testutil.Ctx(t)
	content := bytes.Repeat([]byte("blob"), 1000)

	var progress blob.Counter
	err := e.d.BlobUpload(ctx, "b1", bytes.NewReader(content), int64(len(content)), &progress, &blob.Flag{})
	require.NoError(t, err)
	assert.Equal(t, 100, progress.Percent())

	n, err := e.d.BlobLength(ctx, "b1")
	require.NoError(t, err)
	assert.EqualValues(t, len(content), n)

	data, err := e.d.BlobBytes(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, content, data)

	rc, err := e.d.BlobDownload(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, content, readAll(t, rc))

	_, err = e.d.BlobLength(ctx, "missing")
	requireKind(t, err, rerrors.ProtocolFailure)

	_, err = e.d.BlobLength(ctx, "")
	requireKind(t, err, rerrors.PreconditionFailed)
}

func TestMetadataQuery(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})

	var p transport.Params
	p.Set("table_name_pattern", "orders%")

	rc, err := e.d.MetadataQuery(testutil.Ctx(t), "get_tables", p)
	require.NoError(t, err)

	a := envelope.New(string(readAll(t, rc)), http.StatusOK, "OK")
	require.True(t, a.IsOK())
	res, ok := a.Result()
	require.True(t, ok)
	assert.JSONEq(t, `{"query":"get_tables","table_name_pattern":"orders%"}`, res)

	_, err = e.d.MetadataQuery(testutil.Ctx(t), "", p)
	requireKind(t, err, rerrors.PreconditionFailed)
}

func TestCloneAndLogout(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	ctx := testutil.Ctx(t)
	conn := e.d.Connection()

	clone, err := e.d.Clone(ctx)
	require.NoError(t, err)
	assert.Equal(t, conn.SessionID, clone.Connection().SessionID)
	assert.NotEqual(t, conn.ConnectionID, clone.Connection().ConnectionID)
	assert.Equal(t, 2, e.srv.Connections(conn.SessionID))

	require.NoError(t, clone.Commit(ctx))
	require.NoError(t, clone.Logout(ctx))

	assert.False(t, e.srv.HasSession(conn.SessionID))
	assert.False(t, e.sessions.Store().IsLogged(conn.Key))
	assert.Equal(t, 1, e.srv.Calls("login"))

	// the original handle shares the discarded session
	err = e.d.Commit(ctx)
	requireKind(t, err, rerrors.ProtocolFailure)
}

func TestSpans(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	ctx := testutil.Ctx(t)

	require.NoError(t, e.d.Commit(ctx))
	_, err := e.d.ExecuteQuery(ctx, Statement{SQL: "syntax error"})
	require.Error(t, err)

	spans := e.spans.GetSpans()
	require.Len(t, spans, 2)

	commit := spans[0]
	assert.Equal(t, "remotesql.commit", commit.Name)
	assert.Equal(t, oteltrace.SpanKindClient, commit.SpanKind)
	assert.Equal(t, otelcodes.Ok, commit.Status.Code)
	assert.Contains(t, commit.Attributes, otelattribute.String("remotesql.action", ActionCommit))
	assert.Contains(t, commit.Attributes, otelattribute.String("remotesql.connection_id", e.d.Connection().ConnectionID))
	assert.Contains(t, commit.Attributes, otelattribute.Int("http.status_code", http.StatusOK))

	failed := spans[1]
	assert.Equal(t, "remotesql.execute_query", failed.Name)
	assert.Equal(t, otelcodes.Error, failed.Status.Code)
	assert.Contains(t, failed.Attributes, otelattribute.String("remotesql.error_kind", string(rerrors.ProtocolFailure)))
	assert.Contains(t, failed.Attributes, otelattribute.Int("remotesql.error_type", 2))
}

func TestCommandMetrics(t *testing.T) {
	t.Parallel()

	e := setup(t, Options{})
	ctx := testutil.Ctx(t)
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(e.metrics))

	require.NoError(t, e.d.Commit(ctx))
	require.NoError(t, e.d.Commit(ctx))
	_, err := e.d.Holdability(ctx)
	require.NoError(t, err)
	_, err = e.d.ExecuteUpdate(ctx, Statement{SQL: "update t set a = 1"})
	require.NoError(t, err)
	e.srv.Handle(ActionRollback, func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteFail(w, http.StatusOK, 3, "no transaction")
	})
	require.Error(t, e.d.Rollback(ctx))

	expected := `
# HELP remotesql_commands_total Total number of dispatched commands by action and result.
# TYPE remotesql_commands_total counter
remotesql_commands_total{action="commit",result="ok"} 2
remotesql_commands_total{action="execute_update",result="ok"} 1
remotesql_commands_total{action="get_holdability",result="ok"} 1
remotesql_commands_total{action="rollback",result="error"} 1
`
	assert.NoError(t, promtestutil.GatherAndCompare(reg, strings.NewReader(expected), "remotesql_commands_total"))
}
