package survey

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/peereval/backend/core/project"
)

// fanOutLimit bounds the concurrent per-member queries of a completion check.
const fanOutLimit = 4

// TeamCompletion tells whether every member of a team rated all of their teammates.
type TeamCompletion struct {
	AllSubmitted   bool           `json:"allSubmitted"`
	SubmittedCount int            `json:"submittedCount"`
	TotalCount     int            `json:"totalCount"`
	TeamMemberIDs  []string       `json:"teamMemberIds"`
	Members        []MemberStatus `json:"members"`
}

type MemberStatus struct {
	StudentID    string `json:"studentId"`
	HasSubmitted bool   `json:"hasSubmitted"`
}

// StudentCompletion is the per-student progress row of the results view.
type StudentCompletion struct {
	StudentID            string `json:"studentId"`
	StudentName          string `json:"studentName"`
	StudentEmail         string `json:"studentEmail"`
	TeamName             string `json:"teamName"`
	ExpectedSubmissions  int    `json:"expectedSubmissions"`
	CompletedSubmissions int    `json:"completedSubmissions"`
	IsComplete           bool   `json:"isComplete"`
	CompletionPercentage int    `json:"completionPercentage"`
}

type OverallStats struct {
	TotalStudents               int `json:"totalStudents"`
	CompletedStudents           int `json:"completedStudents"`
	OverallCompletionPercentage int `json:"overallCompletionPercentage"`
	TotalResponses              int `json:"totalResponses"`
}

// evaluateTeam computes a TeamCompletion from the number of distinct teammates each member rated.
// A single member team is vacuously complete.
func evaluateTeam(memberIDs []string, ratedCounts map[string]int) TeamCompletion {
	expected := len(memberIDs) - 1
	tc := TeamCompletion{
		TotalCount:    len(memberIDs),
		TeamMemberIDs: memberIDs,
		Members:       make([]MemberStatus, 0, len(memberIDs)),
	}
	for _, id := range memberIDs {
		done := ratedCounts[id] == expected
		if done {
			tc.SubmittedCount++
		}
		tc.Members = append(tc.Members, MemberStatus{StudentID: id, HasSubmitted: done})
	}
	tc.AllSubmitted = tc.SubmittedCount == tc.TotalCount
	return tc
}

// ratedTeammates returns, for each member, the distinct teammates (self excluded) they rated.
func ratedTeammates(memberIDs []string, responses []Response) map[string]int {
	inTeam := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		inTeam[id] = struct{}{}
	}
	targets := make(map[string]map[string]struct{}, len(memberIDs))
	for _, r := range responses {
		if r.RespondentID == r.TargetStudentID {
			continue
		}
		if _, ok := inTeam[r.RespondentID]; !ok {
			continue
		}
		if _, ok := inTeam[r.TargetStudentID]; !ok {
			continue
		}
		if targets[r.RespondentID] == nil {
			targets[r.RespondentID] = make(map[string]struct{})
		}
		targets[r.RespondentID][r.TargetStudentID] = struct{}{}
	}
	counts := make(map[string]int, len(targets))
	for id, t := range targets {
		counts[id] = len(t)
	}
	return counts
}

// percentage returns part/total as a rounded percentage, or 0 when total is 0.
func percentage(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

// projectCompletion computes every student's progress, team by team, plus the overall figures.
func projectCompletion(teams []project.Team, responses []Response) ([]StudentCompletion, OverallStats) {
	rows := make([]StudentCompletion, 0)
	var stats OverallStats
	for _, team := range teams {
		memberIDs := team.MemberIDs()
		counts := ratedTeammates(memberIDs, responses)
		expected := len(memberIDs) - 1
		for _, m := range team.Members {
			row := StudentCompletion{
				StudentID:            m.StudentID,
				TeamName:             team.Name,
				ExpectedSubmissions:  expected,
				CompletedSubmissions: counts[m.StudentID],
			}
			if m.Student != nil {
				row.StudentName = m.Student.DisplayName()
				row.StudentEmail = m.Student.Email
			}
			row.IsComplete = row.CompletedSubmissions >= expected
			row.CompletionPercentage = percentage(row.CompletedSubmissions, expected)
			rows = append(rows, row)

			stats.TotalStudents++
			if row.IsComplete {
				stats.CompletedStudents++
			}
		}
	}
	if stats.TotalStudents > 0 {
		stats.OverallCompletionPercentage = percentage(stats.CompletedStudents, stats.TotalStudents)
	}
	stats.TotalResponses = len(responses)
	return rows, stats
}

// teamCompletion counts, concurrently for each member, the distinct teammates they rated.
func (svc *Service) teamCompletion(ctx context.Context, assignmentID string, team project.Team) (TeamCompletion, error) {
	memberIDs := team.MemberIDs()
	counts := make([]int, len(memberIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for i, id := range memberIDs {
		i, id := i, id
		g.Go(func() error {
			others := make([]string, 0, len(memberIDs)-1)
			for _, other := range memberIDs {
				if other != id {
					others = append(others, other)
				}
			}
			if len(others) == 0 {
				return nil
			}
			n, err := svc.repo.CountDistinctTargets(gctx, assignmentID, id, others)
			if err != nil {
				return errors.Wrapf(err, "counting targets rated by %s", id)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return TeamCompletion{}, err
	}

	rated := make(map[string]int, len(memberIDs))
	for i, id := range memberIDs {
		rated[id] = counts[i]
	}
	return evaluateTeam(memberIDs, rated), nil
}
