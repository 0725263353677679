// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// Password is the only password the fake server accepts.
const Password = "secret"

// Server is an in-process implementation of the remote SQL REST protocol.
// It keeps sessions, connections and blobs in memory and counts calls per action
// so tests can assert which commands were issued.
type Server struct {
	srv *httptest.Server

	mu        sync.Mutex
	calls     map[string]int
	forms     map[string][]map[string]string
	overrides map[string]http.HandlerFunc
	sessions  map[string]*fakeSession
	blobs     map[string][]byte
	nextID    int
}

type fakeSession struct {
	user        string
	database    string
	connections map[string]*fakeConnection
}

type fakeConnection struct {
	autoCommit bool
	readOnly   bool
	savepoints int
}

// NewServer starts a fake server and stops it when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	s := &Server{
		calls:     map[string]int{},
		forms:     map[string][]map[string]string{},
		overrides: map[string]http.HandlerFunc{},
		sessions:  map[string]*fakeSession{},
		blobs:     map[string][]byte{},
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	tb.Cleanup(s.srv.Close)

	return s
}

// URL returns the server base URL under which all actions live.
func (s *Server) URL() string {
	return s.srv.URL + "/aceql"
}

// Calls returns how many times an action was requested.
func (s *Server) Calls(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[action]
}

// Forms returns the form values received for an action, one map per call.
func (s *Server) Forms(action string) []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.forms[action]...)
}

// Handle replaces the behaviour of an action. Calls are still counted.
func (s *Server) Handle(action string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[action] = h
}

// Blob returns the content stored for a blob id.
func (s *Server) Blob(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[id]
	return b, ok
}

// PutBlob stores content as if it had been uploaded.
func (s *Server) PutBlob(id string, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = b
}

// Connections returns the number of open connections of a session.
func (s *Server) Connections(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return len(sess.connections)
	}
	return 0
}

// HasSession reports whether the server still knows a session.
func (s *Server) HasSession(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok
}

// WriteJSON writes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteFail writes a FAIL status envelope.
func WriteFail(w http.ResponseWriter, status, errorType int, msg string) {
	WriteJSON(w, status, map[string]any{
		"status":        "FAIL",
		"error_type":    errorType,
		"error_message": msg,
		"stack_trace":   "fake.Server.serve()",
	})
}

func writeOK(w http.ResponseWriter, kv ...any) {
	body := map[string]any{"status": "OK"}
	for i := 0; i+1 < len(kv); i += 2 {
		body[kv[i].(string)] = kv[i+1]
	}
	WriteJSON(w, http.StatusOK, body)
}

func (s *Server) newID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s%04d", prefix, s.nextID)
}

func (s *Server) record(action string, r *http.Request) (http.HandlerFunc, bool) {
	form := map[string]string{}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		_ = r.ParseForm()
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[action]++
	s.forms[action] = append(s.forms[action], form)
	h, ok := s.overrides[action]
	return h, ok
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/aceql"), "/"), "/")

	switch {
	case len(parts) == 5 && parts[0] == "database" && parts[2] == "username" && parts[4] == "login":
		if h, ok := s.record("login", r); ok {
			h(w, r)
			return
		}
		s.login(w, r, parts[1], parts[3])

	case len(parts) == 3 && parts[0] == "session" && parts[2] == "get_connection":
		if h, ok := s.record("get_connection", r); ok {
			h(w, r)
			return
		}
		s.getConnection(w, parts[1])

	case len(parts) >= 5 && parts[0] == "session" && parts[2] == "connection":
		action := parts[4]
		param := ""
		if len(parts) > 5 {
			param = strings.Join(parts[5:], "/")
		}
		if h, ok := s.record(action, r); ok {
			h(w, r)
			return
		}
		s.connectionAction(w, r, parts[1], parts[3], action, param)

	default:
		WriteFail(w, http.StatusNotFound, 1, "unknown path "+r.URL.Path)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, database, user string) {
	if r.Method != http.MethodPost {
		WriteFail(w, http.StatusMethodNotAllowed, 1, "login requires POST")
		return
	}
	if r.PostForm.Get("password") != Password {
		WriteFail(w, http.StatusUnauthorized, 2, "Invalid username or password.")
		return
	}

	s.mu.Lock()
	sid := s.newID("sess")
	cid := s.newID("conn")
	s.sessions[sid] = &fakeSession{
		user:        user,
		database:    database,
		connections: map[string]*fakeConnection{cid: {autoCommit: true}},
	}
	s.mu.Unlock()

	writeOK(w, "session_id", sid, "connection_id", cid)
}

func (s *Server) getConnection(w http.ResponseWriter, sid string) {
	s.mu.Lock()
	sess, ok := s.sessions[sid]
	var cid string
	if ok {
		cid = s.newID("conn")
		sess.connections[cid] = &fakeConnection{autoCommit: true}
	}
	s.mu.Unlock()

	if !ok {
		WriteFail(w, http.StatusUnauthorized, 1, "Invalid session_id")
		return
	}
	writeOK(w, "connection_id", cid)
}

func (s *Server) connectionAction(w http.ResponseWriter, r *http.Request, sid, cid, action, param string) {
	s.mu.Lock()
	sess, ok := s.sessions[sid]
	var conn *fakeConnection
	if ok {
		conn = sess.connections[cid]
	}
	s.mu.Unlock()

	if !ok || conn == nil {
		WriteFail(w, http.StatusNotFound, 1, "Invalid session_id or connection_id")
		return
	}

	switch action {
	case "execute", "execute_query":
		s.executeQuery(w, r)

	case "execute_update":
		if r.PostForm.Get("sql") == "" {
			WriteFail(w, http.StatusOK, 2, "sql is required")
			return
		}
		if r.PostForm.Get("stored_procedure") == "true" {
			writeOK(w, "row_count", 0, "parameters_out_per_index", map[string]string{"2": "out-2"})
			return
		}
		writeOK(w, "row_count", 1)

	case "commit", "rollback":
		writeOK(w)

	case "set_auto_commit":
		s.mu.Lock()
		conn.autoCommit = param == "true"
		s.mu.Unlock()
		writeOK(w)

	case "get_auto_commit":
		s.mu.Lock()
		v := conn.autoCommit
		s.mu.Unlock()
		writeOK(w, "result", strconv.FormatBool(v))

	case "set_read_only":
		s.mu.Lock()
		conn.readOnly = param == "true"
		s.mu.Unlock()
		writeOK(w)

	case "is_read_only":
		s.mu.Lock()
		v := conn.readOnly
		s.mu.Unlock()
		writeOK(w, "result", strconv.FormatBool(v))

	case "set_holdability", "set_transaction_isolation_level":
		if _, err := strconv.Atoi(param); err != nil {
			WriteFail(w, http.StatusOK, 2, "invalid level "+param)
			return
		}
		writeOK(w)

	case "get_holdability":
		writeOK(w, "result", "1")

	case "get_transaction_isolation_level":
		writeOK(w, "result", "2")

	case "get_catalog":
		writeOK(w, "result", sess.database)

	case "get_schema":
		writeOK(w, "result", "public")

	case "set_savepoint", "set_named_savepoint":
		s.mu.Lock()
		conn.savepoints++
		id := conn.savepoints
		s.mu.Unlock()
		writeOK(w, "result", map[string]any{"id": id, "name": r.PostForm.Get("name")})

	case "rollback_savepoint", "release_savepoint":
		if r.PostForm.Get("id") == "" {
			WriteFail(w, http.StatusOK, 2, "savepoint id is required")
			return
		}
		writeOK(w)

	case "blob_upload":
		s.blobUpload(w, r)

	case "get_blob_length":
		b, ok := s.Blob(r.PostForm.Get("blob_id"))
		if !ok {
			WriteFail(w, http.StatusOK, 2, "unknown blob")
			return
		}
		writeOK(w, "result", strconv.Itoa(len(b)))

	case "blob_download":
		b, ok := s.Blob(r.PostForm.Get("blob_id"))
		if !ok {
			WriteFail(w, http.StatusNotFound, 2, "unknown blob")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(b)

	case "statement_execute_batch", "prepared_statement_execute_batch":
		s.executeBatch(w, r)

	case "metadata_query":
		writeOK(w, "result", map[string]any{"query": param, "table_name_pattern": r.PostForm.Get("table_name_pattern")})

	case "close":
		s.mu.Lock()
		delete(sess.connections, cid)
		s.mu.Unlock()
		writeOK(w)

	case "logout":
		s.mu.Lock()
		delete(s.sessions, sid)
		s.mu.Unlock()
		writeOK(w)

	default:
		WriteFail(w, http.StatusBadRequest, 1, "unknown action "+action)
	}
}

func (s *Server) executeQuery(w http.ResponseWriter, r *http.Request) {
	sql := r.PostForm.Get("sql")
	if sql == "" {
		WriteFail(w, http.StatusOK, 2, "sql is required")
		return
	}

	body := []byte(`{"status":"OK","column_count":1,"query_rows":[{"row_1":[{"1":1}]}],"row_count":1}`)
	if strings.Contains(strings.ToLower(sql), "syntax error") {
		WriteFail(w, http.StatusOK, 2, "syntax error at or near \"error\"")
		return
	}

	if r.PostForm.Get("gzip_result") == "true" {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write(body)
		_ = zw.Close()
		body = buf.Bytes()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) blobUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		WriteFail(w, http.StatusBadRequest, 2, err.Error())
		return
	}

	var id string
	var content []byte
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			WriteFail(w, http.StatusBadRequest, 2, err.Error())
			return
		}
		b, err := io.ReadAll(part)
		if err != nil {
			WriteFail(w, http.StatusBadRequest, 2, err.Error())
			return
		}
		if part.FileName() == "" && part.FormName() == "blob_id" {
			id = string(b)
			continue
		}
		content = b
	}

	if id == "" {
		WriteFail(w, http.StatusOK, 2, "blob_id is required")
		return
	}
	s.PutBlob(id, content)
	writeOK(w)
}

func (s *Server) executeBatch(w http.ResponseWriter, r *http.Request) {
	b, ok := s.Blob(r.PostForm.Get("blob_id"))
	if !ok {
		WriteFail(w, http.StatusOK, 2, "unknown batch blob")
		return
	}

	var counts []int
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			counts = append(counts, 1)
		}
	}
	res, _ := json.Marshal(counts)
	writeOK(w, "result", string(res))
}
