package echoapi

import (
	"bytes"
	"fmt"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/project"
	"github.com/peereval/backend/core/survey"
	"github.com/peereval/backend/core/user"
)

var (
	msgAssignMissingFields = "projectId, creatorId, title, and deadline are required"
	msgSubmitMissingFields = "assignmentId, respondentId, projectId, answers required"
	msgStudentIDMissing    = "assignmentId and studentId are required"
	msgTargetIDMissing     = "assignmentId and targetStudentId are required"
	msgRespondentIDMissing = "assignmentId and respondentId are required"
)

type surveyApi struct {
	svc        *survey.Service
	projects   *project.Service
	reports    ReportRenderer
	metrics    *Metrics
	validate   *validator.Validate
	translator ut.Translator
}

func registerSurveyAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *survey.Service,
	projects *project.Service,
	reports ReportRenderer,
	metrics *Metrics,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := surveyApi{
		svc:        svc,
		projects:   projects,
		reports:    reports,
		metrics:    metrics,
		validate:   validate,
		translator: translator,
	}
	instructor := roleMiddleware(user.RoleInstructor)

	g.GET("/projects/:projectId/surveys", api.projectSurveys, jwt)

	sg := g.Group("/surveys", jwt)
	sg.POST("/assign", api.assign, instructor)
	sg.POST("/submit", api.submit)

	ag := sg.Group("/:assignmentId")
	ag.GET("/completion-status", api.completionStatus)
	ag.GET("/my-feedback", api.myFeedback)
	ag.GET("/who-rated-me", api.whoRatedMe)
	ag.GET("/my-status", api.myStatus)
	ag.GET("/download-pdf", api.downloadPDF)
	ag.GET("/results", api.results, instructor)
	ag.GET("/responses", api.responses, instructor)
}

// Handlers

func (api *surveyApi) assign(ctx echo.Context) error {
	var data AssignSurveyRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AssignSurveyRequest")
	}
	if err := missingFields(msgAssignMissingFields, data.ProjectID, data.CreatorID, data.Title, data.Deadline); err != nil {
		return err
	}
	if _, err := checkSubject(ctx, data.CreatorID); err != nil {
		return err
	}
	na, err := data.toNewAssignment()
	if err != nil {
		return err
	}
	na.Clean()
	if err = core.CheckStruct(api.validate, api.translator, na, msgInvalidInput); err != nil {
		return err
	}

	s, a, err := api.svc.AssignSurvey(ctx.Request().Context(), na)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, echo.Map{"success": true, "survey": s, "assignment": a})
}

func (api *surveyApi) submit(ctx echo.Context) error {
	var data survey.Submission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Submission")
	}
	if err := missingFields(msgSubmitMissingFields, data.AssignmentID, data.RespondentID, data.ProjectID); err != nil {
		return err
	}
	if len(data.Answers) == 0 {
		return core.NewValidationError(errors.New(msgSubmitMissingFields))
	}
	if _, err := checkSubject(ctx, data.RespondentID); err != nil {
		return err
	}

	if err := api.svc.Submit(ctx.Request().Context(), data); err != nil {
		return err
	}
	api.metrics.submissionAccepted()
	return ctx.JSON(http.StatusOK, echo.Map{"success": true})
}

func (api *surveyApi) completionStatus(ctx echo.Context) error {
	assignmentID, studentID := ctx.Param("assignmentId"), ctx.QueryParam("studentId")
	if err := missingFields(msgStudentIDMissing, assignmentID, studentID); err != nil {
		return err
	}
	if err := api.authorizeStudentView(ctx, assignmentID, studentID); err != nil {
		return err
	}

	tc, err := api.svc.CompletionStatus(ctx.Request().Context(), assignmentID, studentID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"success":        true,
		"allSubmitted":   tc.AllSubmitted,
		"submittedCount": tc.SubmittedCount,
		"totalCount":     tc.TotalCount,
		"teamMemberIds":  tc.TeamMemberIDs,
	})
}

func (api *surveyApi) myFeedback(ctx echo.Context) error {
	assignmentID, targetID := ctx.Param("assignmentId"), ctx.QueryParam("targetStudentId")
	if err := missingFields(msgTargetIDMissing, assignmentID, targetID); err != nil {
		return err
	}
	if err := api.authorizeStudentView(ctx, assignmentID, targetID); err != nil {
		return err
	}

	fb, err := api.svc.MyFeedback(ctx.Request().Context(), assignmentID, targetID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"success":             true,
		"feedbackByCriterion": fb.FeedbackByCriterion,
		"criteria":            fb.Criteria,
		"totalResponses":      fb.TotalResponses,
	})
}

func (api *surveyApi) whoRatedMe(ctx echo.Context) error {
	assignmentID, targetID := ctx.Param("assignmentId"), ctx.QueryParam("targetStudentId")
	if err := missingFields(msgTargetIDMissing, assignmentID, targetID); err != nil {
		return err
	}
	if err := api.authorizeStudentView(ctx, assignmentID, targetID); err != nil {
		return err
	}

	respondents, err := api.svc.WhoRatedMe(ctx.Request().Context(), assignmentID, targetID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"success": true, "respondents": respondents})
}

func (api *surveyApi) myStatus(ctx echo.Context) error {
	assignmentID, respondentID := ctx.Param("assignmentId"), ctx.QueryParam("respondentId")
	if err := missingFields(msgRespondentIDMissing, assignmentID, respondentID); err != nil {
		return err
	}
	if err := api.authorizeStudentView(ctx, assignmentID, respondentID); err != nil {
		return err
	}

	submitted, err := api.svc.HasSubmitted(ctx.Request().Context(), assignmentID, respondentID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"success": true, "submitted": submitted})
}

func (api *surveyApi) results(ctx echo.Context) error {
	assignmentID := ctx.Param("assignmentId")
	if err := api.checkAssignmentOwner(ctx, assignmentID); err != nil {
		return err
	}

	res, err := api.svc.Results(ctx.Request().Context(), assignmentID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"success":           true,
		"assignment":        res.Assignment,
		"completionStatus":  res.CompletionStatus,
		"aggregatedResults": res.AggregatedResults,
		"overallStats":      res.OverallStats,
	})
}

func (api *surveyApi) responses(ctx echo.Context) error {
	assignmentID := ctx.Param("assignmentId")
	if err := api.checkAssignmentOwner(ctx, assignmentID); err != nil {
		return err
	}

	responses, err := api.svc.Responses(ctx.Request().Context(), assignmentID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"success": true, "responses": responses})
}

func (api *surveyApi) downloadPDF(ctx echo.Context) error {
	assignmentID, studentID := ctx.Param("assignmentId"), ctx.QueryParam("studentId")
	if err := missingFields(msgStudentIDMissing, assignmentID, studentID); err != nil {
		return err
	}
	if err := api.authorizeStudentView(ctx, assignmentID, studentID); err != nil {
		return err
	}

	rep, err := api.svc.BuildReport(ctx.Request().Context(), assignmentID, studentID)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err = api.reports.Render(rep, &buf); err != nil {
		return errors.Wrap(err, "rendering report")
	}
	api.metrics.reportGenerated()

	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", rep.Filename()))
	return ctx.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}

func (api *surveyApi) projectSurveys(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	projectID := ctx.Param("projectId")
	rctx := ctx.Request().Context()

	ok, err := api.projects.CanView(rctx, projectID, claims.Subject)
	if err != nil {
		return err
	}
	if !ok {
		return errHttpForbidden
	}

	assignments, err := api.svc.ProjectAssignments(rctx, projectID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"success": true, "assignments": assignments})
}

// authorizeStudentView lets through the student themself and the instructor owning the assignment's project.
func (api *surveyApi) authorizeStudentView(ctx echo.Context, assignmentID, studentID string) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if claims.Subject == studentID {
		return nil
	}
	if !claims.IsInstructor() {
		return errHttpForbidden
	}
	return api.checkAssignmentOwner(ctx, assignmentID)
}

// checkAssignmentOwner fails unless the authenticated user owns the assignment's project.
func (api *surveyApi) checkAssignmentOwner(ctx echo.Context, assignmentID string) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()
	a, err := api.svc.Assignment(rctx, assignmentID)
	if err != nil {
		return err
	}
	p, err := api.projects.Get(rctx, a.ProjectID)
	if err != nil {
		return errors.Wrap(err, "finding assignment project")
	}
	if p.InstructorID != claims.Subject {
		return errHttpForbidden
	}
	return nil
}
