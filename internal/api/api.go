package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"debugarena/internal/anticheat"
	"debugarena/internal/authoring"
	"debugarena/internal/domain"
	"debugarena/internal/errors"
	"debugarena/internal/event"
	"debugarena/internal/leaderboard"
	"debugarena/internal/session"
)

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Registry     *session.Registry
	Leaderboard  *leaderboard.Service
	Authoring    *authoring.Service
	Anticheat    *anticheat.Service
	Redis        Redis
	PubsubPrefix string
}

type API struct {
	registry    *session.Registry
	leaderboard *leaderboard.Service
	authoring   *authoring.Service
	anticheat   *anticheat.Service

	redis  Redis
	prefix string
	hub    *wsHub
}

func New(c Config) *API {
	a := &API{
		registry:    c.Registry,
		leaderboard: c.Leaderboard,
		authoring:   c.Authoring,
		anticheat:   c.Anticheat,
		redis:       c.Redis,
		prefix:      c.PubsubPrefix,
		hub:         newWSHub(),
	}

	v1 := c.Router.Group("/api/v1", Identity())

	v1.POST("/quizzes", a.createQuiz)
	v1.POST("/quizzes/:id/questions", a.addQuestion)
	v1.POST("/assignments", a.assignQuiz)

	v1.POST("/assignments/:id/session", a.attachSession)
	v1.GET("/assignments/:id/session", a.getSession)
	v1.POST("/assignments/:id/session/buffer", a.updateBuffer)
	v1.POST("/assignments/:id/session/submit", a.submit)
	v1.POST("/assignments/:id/cheats", a.reportCheat)

	v1.GET("/leaderboard", a.getLeaderboard)
	v1.GET("/leaderboard/ws", a.serveLeaderboardWS)

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.onLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

func (a *API) createQuiz(c *gin.Context) {
	var req struct {
		Title       string `json:"title" binding:"required"`
		Language    string `json:"language" binding:"required"`
		TimePerQues int    `json:"time_per_question" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err)))
		return
	}

	quiz, err := a.authoring.CreateQuiz(c.Request.Context(), authoring.CreateQuizRequest{
		Identity:    CallerIdentity(c),
		Title:       req.Title,
		Language:    req.Language,
		TimePerQues: req.TimePerQues,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":                quiz.ID,
		"title":             quiz.Title,
		"language":          quiz.Language,
		"time_per_question": quiz.TimePerQues,
	})
}

func (a *API) addQuestion(c *gin.Context) {
	var req struct {
		Title          string `json:"title"`
		BuggyCode      string `json:"buggy_code" binding:"required"`
		Solution       string `json:"solution" binding:"required"`
		ExpectedOutput string `json:"expected_output"`
		Position       int    `json:"position"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err)))
		return
	}

	q, err := a.authoring.AddQuestion(c.Request.Context(), authoring.AddQuestionRequest{
		Identity:       CallerIdentity(c),
		QuizID:         c.Param("id"),
		Title:          req.Title,
		BuggyCode:      req.BuggyCode,
		Solution:       req.Solution,
		ExpectedOutput: req.ExpectedOutput,
		Position:       req.Position,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": q.ID, "quiz_id": q.QuizID})
}

func (a *API) assignQuiz(c *gin.Context) {
	var req struct {
		QuizID    string `json:"quiz_id" binding:"required"`
		LearnerID string `json:"learner_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err)))
		return
	}

	assignment, err := a.authoring.AssignQuiz(c.Request.Context(), authoring.AssignQuizRequest{
		Identity:  CallerIdentity(c),
		QuizID:    req.QuizID,
		LearnerID: req.LearnerID,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         assignment.ID,
		"quiz_id":    assignment.QuizID,
		"learner_id": assignment.LearnerID,
	})
}

// attachSession starts (or resumes) the learner's quiz session and returns
// the current state.
func (a *API) attachSession(c *gin.Context) {
	eng, err := a.registry.Attach(c.Request.Context(), c.Param("id"), CallerIdentity(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, eng.Snapshot())
}

func (a *API) getSession(c *gin.Context) {
	eng, err := a.registry.Get(c.Param("id"), CallerIdentity(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, eng.Snapshot())
}

// updateBuffer keeps the server-side code buffer in sync with the editor so a
// timer expiry submits what the learner last typed.
func (a *API) updateBuffer(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err)))
		return
	}

	eng, err := a.registry.Get(c.Param("id"), CallerIdentity(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	if err := eng.UpdateBuffer(req.Code); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) submit(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err)))
		return
	}

	eng, err := a.registry.Get(c.Param("id"), CallerIdentity(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	result, err := eng.Submit(c.Request.Context(), req.Code)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (a *API) reportCheat(c *gin.Context) {
	var req struct {
		Kind   string `json:"kind" binding:"required"`
		Detail string `json:"detail"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err)))
		return
	}

	// With an active session the engine tracks the tab-switch counter too;
	// without one the event still lands in the log.
	if eng, err := a.registry.Get(c.Param("id"), CallerIdentity(c)); err == nil {
		eng.ReportCheat(c.Request.Context(), req.Kind, req.Detail)
		c.Status(http.StatusAccepted)
		return
	}

	if err := a.recordDetachedCheat(c, req.Kind, req.Detail); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.leaderboard.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		QuizID: c.Query("quiz_id"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

// recordDetachedCheat logs a cheat event reported outside an active session.
func (a *API) recordDetachedCheat(c *gin.Context, kind, detail string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}

	return a.anticheat.Record(c.Request.Context(), domain.CheatEvent{
		ID:           id.String(),
		LearnerID:    CallerIdentity(c).UserID,
		AssignmentID: c.Param("id"),
		Kind:         kind,
		Detail:       detail,
		OccurredAt:   time.Now(),
	})
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"code":    e.Code,
		"message": e.Message,
	})
}
