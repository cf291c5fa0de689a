package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/peereval/backend/apps/api/echo"
	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/project"
	"github.com/peereval/backend/core/survey"
	"github.com/peereval/backend/core/user"
	emailsvc "github.com/peereval/backend/services/email"
	pdfsvc "github.com/peereval/backend/services/pdf"
	"github.com/peereval/backend/storage/database/sqlxrepos"
	"github.com/peereval/backend/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

// testApp is a Server backed by a private in-memory database.
type testApp struct {
	*echoapi.Server
	conf       *core.Config
	db         *sqlx.DB
	usrRepo    user.Repository
	prjRepo    project.Repository
	surveyRepo survey.Repository
	mailSvc    *emailsvc.ConsoleServiceMock
	registry   *prometheus.Registry
}

// setup builds the app. The console mock records e-mails unless another mailer is given.
func setup(t *testing.T, mailer ...core.EmailService) *testApp {
	conf := core.NewTestConfig()
	logger := testutil.NewLogger(t)

	// set up DB & repos
	db := testutil.PrepareDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	prjRepo := sqlxrepos.NewProjectRepository(db)
	surveyRepo := sqlxrepos.NewSurveyRepository(db)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	var userMailer core.EmailService = mailSvc
	if len(mailer) > 0 {
		userMailer = mailer[0]
	}
	usrSvc := user.NewService(usrRepo, userMailer, conf)
	prjSvc := project.NewService(db, prjRepo, usrSvc, logger)
	surveySvc := survey.NewService(db, surveyRepo, prjSvc, usrSvc, logger, true /* criteriaEnabled */)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	reg := prometheus.NewRegistry()

	// set up server
	srv := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		UserSvc:    usrSvc,
		ProjectSvc: prjSvc,
		SurveySvc:  surveySvc,
		Reports:    pdfsvc.NewRenderer(conf.AppName),
		Validate:   validate,
		Translator: translator,
		Metrics:    echoapi.NewMetrics(reg),
	})
	t.Cleanup(func() { _ = srv.Close() })

	return &testApp{
		Server:     srv,
		conf:       conf,
		db:         db,
		usrRepo:    usrRepo,
		prjRepo:    prjRepo,
		surveyRepo: surveyRepo,
		mailSvc:    mailSvc,
		registry:   reg,
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
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// do serves a request and returns its recorder.
func (app *testApp) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	app.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) getToken(t *testing.T, usr user.User) string {
	token, err := echoapi.GenerateToken(echoapi.GetUserClaims(usr, app.conf), app.conf.SecretKey)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

// decode unmarshals the recorded body into a generic JSON map.
func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode() failed: %v; body %s", err, rec.Body.String())
	}
	return body
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	if _, ok := j1.([]interface{}); !ok {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(tt.method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}
