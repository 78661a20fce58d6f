package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"debugarena/internal/anticheat"
	"debugarena/internal/api"
	"debugarena/internal/assignment"
	"debugarena/internal/authoring"
	"debugarena/internal/event"
	"debugarena/internal/leaderboard"
	"debugarena/internal/session"
	"debugarena/internal/store/memory"
	"debugarena/internal/verify"
)

type testServer struct {
	router *gin.Engine
	store  *memory.Store
}

func makeServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	verifier := verify.New(verify.Config{})
	anticheatSvc := anticheat.NewService(anticheat.Config{Store: store})

	registry := session.NewRegistry(session.RegistryConfig{
		Loader:   assignment.NewService(assignment.Config{Store: store}),
		Store:    store,
		Verifier: verifier,
		Cheats:   anticheatSvc,
		EventBus: eb,
	})

	router := gin.New()
	api.New(api.Config{
		Router:      router,
		EventBus:    eb,
		Registry:    registry,
		Leaderboard: leaderboard.NewService(leaderboard.Config{Store: store, EventBus: eb}),
		Authoring:   authoring.NewService(authoring.Config{Store: store}),
		Anticheat:   anticheatSvc,
	})

	return &testServer{router: router, store: store}
}

func (s *testServer) do(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func TestAPI_MissingIdentity(t *testing.T) {
	s := makeServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/leaderboard", "", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_LearnerCannotAuthor(t *testing.T) {
	s := makeServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/quizzes", "learner-1", "", gin.H{
		"title": "t", "language": "python", "time_per_question": 60,
	})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPI_QuizLifecycle(t *testing.T) {
	s := makeServer(t)

	// Admin authors a one-question quiz and assigns it.
	w := s.do(t, http.MethodPost, "/api/v1/quizzes", "admin-1", "admin", gin.H{
		"title": "Broken Loops", "language": "python", "time_per_question": 60,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	quizID := decode(t, w)["id"].(string)

	w = s.do(t, http.MethodPost, "/api/v1/quizzes/"+quizID+"/questions", "admin-1", "admin", gin.H{
		"title":      "Fix x",
		"buggy_code": "x = 0",
		"solution":   "x = 1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/assignments", "admin-1", "admin", gin.H{
		"quiz_id": quizID, "learner_id": "learner-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assignmentID := decode(t, w)["id"].(string)

	// The learner attaches and sees the buggy code but never the solution.
	w = s.do(t, http.MethodPost, "/api/v1/assignments/"+assignmentID+"/session", "learner-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	snap := decode(t, w)
	require.Equal(t, "active", snap["state"])
	question := snap["question"].(map[string]any)
	require.Equal(t, "x = 0", question["buggy_code"])
	require.NotContains(t, question, "solution")
	require.NotContains(t, w.Body.String(), "x = 1")

	// Another learner probing the assignment sees nothing.
	w = s.do(t, http.MethodPost, "/api/v1/assignments/"+assignmentID+"/session", "intruder", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// A cheat report is accepted and does not interrupt the session.
	w = s.do(t, http.MethodPost, "/api/v1/assignments/"+assignmentID+"/cheats", "learner-1", "", gin.H{
		"kind": "tab-switch",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	// Submitting the fix completes the single-question quiz.
	w = s.do(t, http.MethodPost, "/api/v1/assignments/"+assignmentID+"/session/submit", "learner-1", "", gin.H{
		"code": "x = 1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	result := decode(t, w)
	require.Equal(t, true, result["correct"])
	require.Equal(t, true, result["completed"])
	require.Equal(t, float64(1), result["tally"].(map[string]any)["correct"])

	// A second submit is a precondition failure: the quiz is over.
	w = s.do(t, http.MethodPost, "/api/v1/assignments/"+assignmentID+"/session/submit", "learner-1", "", gin.H{
		"code": "x = 1",
	})
	require.Equal(t, http.StatusPreconditionFailed, w.Code)

	// The completed learner shows up on the board.
	w = s.do(t, http.MethodGet, "/api/v1/leaderboard?quiz_id="+quizID, "learner-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	board := decode(t, w)
	entries := board["entries"].([]any)
	require.Len(t, entries, 1)
	top := entries[0].(map[string]any)
	require.Equal(t, "learner-1", top["learner_id"])
	require.Equal(t, float64(1), top["correct"])

	require.Len(t, s.store.CheatEvents(), 1)
}

func TestAPI_UpdateBufferRequiresSession(t *testing.T) {
	s := makeServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/assignments/missing/session/buffer", "learner-1", "", gin.H{
		"code": "x = 1",
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}
