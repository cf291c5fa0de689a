package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/peereval/backend/core"
	"github.com/peereval/backend/core/project"
	"github.com/peereval/backend/core/user"
)

var (
	msgProjectMissingFields = "Missing fields"
	msgInviteMissingFields  = "Missing required fields"
	msgUserIDRequired       = "User ID is required"
	msgStudentIDRequired    = "studentId is required"
)

type projectApi struct {
	svc        *project.Service
	users      *user.Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerProjectAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *project.Service,
	users *user.Service,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := projectApi{
		svc:        svc,
		users:      users,
		validate:   validate,
		translator: translator,
	}

	pg := g.Group("/projects", jwt)
	pg.POST("/create", api.create)
	pg.DELETE("/delete", api.destroy)
	pg.GET("/list", api.list)
	pg.GET("/:projectId/my-team", api.myTeam)
	pg.GET("/:projectId/unassigned-students", api.unassignedStudents, roleMiddleware(user.RoleInstructor))

	ig := g.Group("/invites", jwt)
	ig.POST("/send", api.sendInvite)
	ig.POST("/respond", api.respondInvite)

	tg := g.Group("/teams", jwt)
	tg.POST("/create", api.createTeam, roleMiddleware(user.RoleInstructor))
}

// Handlers

func (api *projectApi) create(ctx echo.Context) error {
	var data project.NewProject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewProject")
	}
	data.Clean()
	if err := missingFields(msgProjectMissingFields, data.Title, data.Description, data.InstructorID); err != nil {
		return err
	}
	if _, err := checkSubject(ctx, data.InstructorID); err != nil {
		return err
	}
	if err := core.CheckStruct(api.validate, api.translator, data, msgProjectMissingFields); err != nil {
		return err
	}

	p, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"project": p})
}

func (api *projectApi) destroy(ctx echo.Context) error {
	var data DeleteProjectRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DeleteProjectRequest")
	}
	if err := missingFields(msgProjectMissingFields, data.ProjectID, data.InstructorID); err != nil {
		return err
	}
	if _, err := checkSubject(ctx, data.InstructorID); err != nil {
		return err
	}

	if _, err := api.svc.Delete(ctx.Request().Context(), data.ProjectID, data.InstructorID); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"success": true})
}

func (api *projectApi) list(ctx echo.Context) error {
	userID := ctx.QueryParam("userId")
	if err := missingFields(msgUserIDRequired, userID); err != nil {
		return err
	}
	if _, err := checkSubject(ctx, userID); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	usr, err := api.users.GetByID(rctx, userID)
	if err != nil {
		return err
	}

	var projects interface{}
	if usr.IsInstructor() {
		projects, err = api.svc.ListForInstructor(rctx, usr.ID)
	} else {
		projects, err = api.svc.ListForStudent(rctx, usr.ID)
	}
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"success": true, "projects": projects})
}

func (api *projectApi) myTeam(ctx echo.Context) error {
	projectID := ctx.Param("projectId")
	studentID := ctx.QueryParam("studentId")
	if err := missingFields(msgStudentIDRequired, studentID); err != nil {
		return err
	}
	if err := api.authorizeStudentView(ctx, projectID, studentID); err != nil {
		return err
	}

	members := []project.TeamMember{}
	team, err := api.svc.StudentTeam(ctx.Request().Context(), projectID, studentID)
	if err != nil {
		if !core.IsNotFound(err) {
			return errors.Wrap(err, "finding student team")
		}
	} else if team.Members != nil {
		members = team.Members
	}
	return ctx.JSON(http.StatusOK, echo.Map{"success": true, "members": members})
}

func (api *projectApi) unassignedStudents(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()
	if _, err = api.svc.GetOwned(rctx, ctx.Param("projectId"), claims.Subject); err != nil {
		return err
	}

	students, err := api.svc.UnassignedStudents(rctx, ctx.Param("projectId"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *projectApi) sendInvite(ctx echo.Context) error {
	var data SendInviteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SendInviteRequest")
	}
	if err := missingFields(msgInviteMissingFields, data.ProjectID, data.StudentEmail, data.InstructorID); err != nil {
		return err
	}
	if _, err := checkSubject(ctx, data.InstructorID); err != nil {
		return err
	}

	inv, err := api.svc.SendInvite(ctx.Request().Context(), data.ProjectID, data.StudentEmail, data.InstructorID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"success": true, "invite": inv})
}

func (api *projectApi) respondInvite(ctx echo.Context) error {
	var data RespondInviteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RespondInviteRequest")
	}
	if err := missingFields(msgInviteMissingFields, data.InviteID, data.StudentID); err != nil {
		return err
	}
	if _, err := checkSubject(ctx, data.StudentID); err != nil {
		return err
	}

	inv, err := api.svc.RespondInvite(ctx.Request().Context(), data.InviteID, data.Status, data.StudentID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"invite": inv})
}

func (api *projectApi) createTeam(ctx echo.Context) error {
	var data CreateTeamRequest
	if err := ctx.Bind(&data); err != nil {
		return project.ErrInvalidTeamInput
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	team, err := api.svc.CreateTeam(ctx.Request().Context(), data.ProjectID, data.StudentIDs, claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"team": team})
}

// authorizeStudentView lets through the student themself and the instructor owning the project.
func (api *projectApi) authorizeStudentView(ctx echo.Context, projectID, studentID string) error {
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
	_, err = api.svc.GetOwned(ctx.Request().Context(), projectID, claims.Subject)
	if errors.Cause(err) == project.ErrUnauthorized {
		return errHttpForbidden
	}
	return err
}
