package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/flow"
	"github.com/trezcool/kidogo/core/preschool"
	"github.com/trezcool/kidogo/core/upload"
	"github.com/trezcool/kidogo/core/user"
	"github.com/trezcool/kidogo/services/progress"
	inmemdb "github.com/trezcool/kidogo/storage/database/inmem"
)

const strongPwd = "Kid0go#Secure9"

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type mailMock struct {
	mu   sync.Mutex
	sent []core.EmailMessage
}

func (m *mailMock) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		m.sent = append(m.sent, *msg)
	}
}

type objectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func (s *objectStore) Put(_ context.Context, path string, f upload.File, progress upload.ProgressFunc) error {
	data, err := io.ReadAll(f.Body)
	if err != nil {
		return err
	}
	if s.failPut {
		return errors.New("bucket unavailable")
	}
	progress(int64(len(data)))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
	return nil
}

func (s *objectStore) URL(_ context.Context, path string) (string, error) {
	return "https://cdn.test/" + path, nil
}

func (s *objectStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *objectStore) get(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}

type fakeGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
}

func (g *fakeGenerator) Generate(context.Context, flow.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reply, g.err
}

func (g *fakeGenerator) set(reply string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reply, g.err = reply, err
}

// sessionStore stands in for the shared (redis) session store.
type sessionStore map[string]upload.Session

func (s sessionStore) Get(_ context.Context, id string) (upload.Session, error) {
	if sess, ok := s[id]; ok {
		return sess, nil
	}
	return upload.Session{}, progress.ErrNotFound
}

type testEnv struct {
	conf     *core.Config
	srv      *Server
	users    *user.Service
	school   *preschool.Service
	uploads  *upload.Manager
	hub      *progress.Hub
	objects  *objectStore
	sessions sessionStore
	gen      *fakeGenerator
	mail     *mailMock
}

func setUp(t *testing.T) *testEnv {
	t.Helper()

	conf := &core.Config{
		AppName:                   "Kidogo",
		SecretKey:                 "secret",
		TestMode:                  true,
		JWTExpirationDelta:        time.Hour,
		JWTRefreshExpirationDelta: 24 * time.Hour,
		PasswordResetTimeoutDelta: time.Hour,
		Server:                    core.ServerConfig{DisableReqLogs: true},
		Storage:                   core.StorageConfig{TusDir: t.TempDir(), MaxUploadSize: 1 << 10},
	}
	env := &testEnv{
		conf:     conf,
		hub:      progress.NewHub(nopLogger{}),
		objects:  &objectStore{objects: make(map[string][]byte)},
		sessions: make(sessionStore),
		gen:      new(fakeGenerator),
		mail:     new(mailMock),
	}

	// set up DB & services
	db := inmemdb.Open()
	env.users = user.NewService(conf, inmemdb.NewUserRepository(db), env.mail)
	env.uploads = upload.NewManager(env.objects, env.hub, nopLogger{}, env.hub)
	env.school = preschool.NewService(inmemdb.NewDocStore(db), env.uploads, env.users, env.mail, nopLogger{})

	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	preschool.InitValidators(validate, translator)

	flowSvc, err := flow.NewService(env.gen, validate)
	require.NoError(t, err)

	// set up server
	env.srv, err = NewServer(Options{
		Conf:       conf,
		Logger:     nopLogger{},
		Validate:   validate,
		Translator: translator,
		UserSvc:    env.users,
		SchoolSvc:  env.school,
		FlowSvc:    flowSvc,
		Uploads:    env.uploads,
		Hub:        env.hub,
		Sessions:   env.sessions,
	})
	require.NoError(t, err)
	return env
}

func (env *testEnv) createUser(t *testing.T, name, email string, roles ...string) user.User {
	t.Helper()
	usr, err := env.users.Create(context.Background(), user.NewUser{
		Name:            name,
		Email:           email,
		Password:        strongPwd,
		PasswordConfirm: strongPwd,
		Roles:           roles,
	})
	require.NoError(t, err)
	return usr
}

func (env *testEnv) getToken(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := GenerateToken(env.conf, GetUserClaims(env.conf, usr))
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func (env *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	return rec
}

// run serves every httpTest and checks its code and, when set, its data.
func (env *testEnv) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req := newAuthRequest(method, tt.path, tt.token, tt.body)
			rec := env.serve(req)
			if tt.wantData == nil {
				assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) *http.Request {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func newRequest(method, path string, data ...[]byte) *http.Request {
	return newAuthRequest(method, path, "", data...)
}

// newMultipartRequest builds a multipart request with the given fields and an optional "file" part.
func newMultipartRequest(t *testing.T, method, path, token string, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile(formFileField, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
