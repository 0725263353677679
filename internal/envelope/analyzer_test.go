// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package envelope

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "remotesql/cli/internal/errors"
)

func TestEnvelopeOK(t *testing.T) {
	t.Parallel()

	a := New(`{"status":"OK","result":"R","row_count":12,"flag":true,"obj":{"a": 1},"nothing":null}`, 200, "OK")
	require.True(t, a.IsOK())
	assert.Nil(t, a.Err())

	res, ok := a.Result()
	assert.True(t, ok)
	assert.Equal(t, "R", res)

	assert.Equal(t, 12, a.RowCount())
	assert.Equal(t, 12, a.IntValue("row_count"))
	assert.Equal(t, -1, a.IntValue("result"))
	assert.Equal(t, -1, a.IntValue("missing"))

	v, ok := a.Value("flag")
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	v, ok = a.Value("obj")
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, v)

	_, ok = a.Value("nothing")
	assert.False(t, ok)
	assert.NoError(t, a.ParseError())
}

func TestEnvelopeFail(t *testing.T) {
	t.Parallel()

	a := New(`{"status":"FAIL","error_type":7,"error_message":"boom","stack_trace":"at X.y()"}`, 200, "OK")
	require.False(t, a.IsOK())
	assert.Equal(t, 7, a.ErrorType())
	assert.Equal(t, "boom", a.ErrorMessage())
	assert.Equal(t, "at X.y()", a.StackTrace())

	e := a.Err()
	require.NotNil(t, e)
	assert.Equal(t, rerrors.ProtocolFailure, e.Kind)
	assert.Equal(t, 7, e.Type)
	assert.Equal(t, "boom", e.Message)
	assert.Equal(t, 200, e.HTTPStatus)
	assert.Equal(t, "at X.y()", e.StackTrace)
}

func TestEnvelopeFailWithoutType(t *testing.T) {
	t.Parallel()

	a := New(`{"status":"FAIL","error_message":"boom"}`, 500, "Internal Server Error")
	assert.Equal(t, rerrors.TypeUnspecified, a.ErrorType())
	assert.Equal(t, rerrors.ProtocolFailure, a.Err().Kind)
}

func TestMalformedBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		wantParse bool
	}{
		{name: "empty", body: "", wantParse: true},
		{name: "blank", body: "  \n", wantParse: true},
		{name: "text", body: "<html>Bad Gateway</html>", wantParse: true},
		{name: "truncated", body: `{"status":"OK"`, wantParse: true},
		{name: "array", body: `["OK"]`, wantParse: true},
		{name: "no status", body: `{"result":"R"}`},
		{name: "status not a string", body: `{"status":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := New(tt.body, 502, "Bad Gateway")
			assert.NotPanics(t, func() { a.IsOK() })
			assert.False(t, a.IsOK())
			assert.Equal(t, "HTTP FAILURE 502 (Bad Gateway)", a.ErrorMessage())
			assert.Equal(t, rerrors.TypeHTTP, a.ErrorType())

			e := a.Err()
			require.NotNil(t, e)
			assert.Equal(t, rerrors.HTTPFailure, e.Kind)
			assert.Equal(t, 502, e.HTTPStatus)

			if tt.wantParse {
				assert.Error(t, a.ParseError())
				assert.NotEmpty(t, e.Cause)
			}
		})
	}
}

func TestOutParametersIdempotent(t *testing.T) {
	t.Parallel()

	body := `{"status":"OK","parameters_out_per_index":{"1":"A","2":"B"}}`

	first, err := New(body, 200, "OK").OutParametersByIndex()
	require.NoError(t, err)
	second, err := New(body, 200, "OK").OutParametersByIndex()
	require.NoError(t, err)

	assert.Equal(t, map[int]string{1: "A", 2: "B"}, first)
	assert.Equal(t, first, second)
}

func TestOutParameters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    map[int]string
		wantErr bool
	}{
		{name: "absent", body: `{"status":"OK"}`},
		{name: "null", body: `{"status":"OK","parameters_out_per_index":null}`},
		{name: "empty", body: `{"status":"OK","parameters_out_per_index":{}}`, want: map[int]string{}},
		{
			name: "typed values",
			body: `{"status":"OK","parameters_out_per_index":{"3":42,"4":null,"5":"x"}}`,
			want: map[int]string{3: "42", 4: "", 5: "x"},
		},
		{name: "non-numeric key", body: `{"status":"OK","parameters_out_per_index":{"first":"A"}}`, wantErr: true},
		{name: "not an object", body: `{"status":"OK","parameters_out_per_index":"A"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := New(tt.body, 200, "OK")
			got, err := a.OutParametersByIndex()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, rerrors.IsKind(err, rerrors.ContractViolation))
				assert.True(t, a.IsOK(), "a contract violation does not change the status")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStream(t *testing.T) {
	t.Parallel()

	rows := strings.Repeat(`{"row":[{"1":"x"},{"2":[1,2,{"n":null}]}]},`, 1000)
	body := `{"status":"OK","column_count":2,"query_rows":[` + strings.TrimSuffix(rows, ",") +
		`],"row_count":1000,"parameters_out_per_index":{"1":"out"}}`

	a := NewStream(bytes.NewReader([]byte(body)), 200, "OK")
	assert.True(t, a.IsOK())
	assert.Equal(t, 1000, a.RowCount())

	out, err := a.OutParametersByIndex()
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "out"}, out)

	// queries are repeatable
	assert.True(t, a.IsOK())
	assert.NoError(t, a.ParseError())
}

func TestStreamStopsAtFirstMatch(t *testing.T) {
	t.Parallel()

	// Everything after row_count is invalid JSON and must never be scanned.
	body := `{"status":"OK","row_count":3, !!! not json at all`

	a := NewStream(bytes.NewReader([]byte(body)), 200, "OK")
	assert.True(t, a.IsOK())
	assert.Equal(t, 3, a.RowCount())
	assert.NoError(t, a.ParseError())
}

func TestStreamFail(t *testing.T) {
	t.Parallel()

	a := NewStream(strings.NewReader(`{"status":"FAIL","error_type":2,"error_message":"no table"}`), 200, "OK")
	assert.False(t, a.IsOK())
	assert.Equal(t, 2, a.ErrorType())
	assert.Equal(t, "no table", a.ErrorMessage())
	assert.Equal(t, rerrors.ProtocolFailure, a.Err().Kind)
}

func TestStreamMalformed(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"", "garbage", `{"row_count":`} {
		a := NewStream(strings.NewReader(body), 503, "Service Unavailable")
		assert.False(t, a.IsOK(), body)
		assert.Equal(t, "HTTP FAILURE 503 (Service Unavailable)", a.ErrorMessage(), body)
		assert.Equal(t, -1, a.RowCount(), body)
	}
}
