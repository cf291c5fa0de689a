package survey

import (
	"fmt"
	"math"
	"sort"

	"github.com/peereval/backend/core/user"
)

// AnonymousFeedback is one peer's answer for a criterion with the peer's identity removed.
type AnonymousFeedback struct {
	AnonymousID string `json:"anonymousId"`
	Text        string `json:"text"`
	Rating      int    `json:"rating"`
}

// CriterionResult is the instructor's, non anonymized, aggregate of one criterion.
type CriterionResult struct {
	CriterionID    string           `json:"criterionId"`
	CriterionLabel string           `json:"criterionLabel"`
	AverageRating  float64          `json:"averageRating"`
	TotalResponses int              `json:"totalResponses"`
	Ratings        []int            `json:"ratings"`
	Responses      []ResponseDetail `json:"responses"`
}

type ResponseDetail struct {
	RespondentName    string `json:"respondentName"`
	TargetStudentName string `json:"targetStudentName"`
	Rating            int    `json:"rating"`
	Text              string `json:"text"`
}

// attributedFeedback is a feedback item still carrying its author; it never leaves the package.
type attributedFeedback struct {
	respondent user.Summary
	text       string
	rating     int
}

// shuffleFunc has the signature of rand.Shuffle.
type shuffleFunc func(n int, swap func(i, j int))

// criterionIDs returns the criteria IDs in display order. Without criteria, the IDs found in the
// answers are used instead, sorted.
func criterionIDs(criteria []Criterion, responses []Response) []string {
	if len(criteria) > 0 {
		ids := make([]string, 0, len(criteria))
		for _, c := range criteria {
			ids = append(ids, c.ID)
		}
		return ids
	}
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, r := range responses {
		for id := range r.Answers {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// groupByCriterion buckets every answer of responses by criterion. There is one bucket per
// criterion, even when empty; answers for unknown criteria are ignored.
// Within a bucket, items keep the order of responses.
func groupByCriterion(ids []string, responses []Response) map[string][]attributedFeedback {
	groups := make(map[string][]attributedFeedback, len(ids))
	for _, id := range ids {
		groups[id] = []attributedFeedback{}
	}
	for _, r := range responses {
		var respondent user.Summary
		if r.Respondent != nil {
			respondent = *r.Respondent
		} else {
			respondent.ID = r.RespondentID
		}
		for id, ans := range r.Answers {
			bucket, ok := groups[id]
			if !ok {
				continue
			}
			groups[id] = append(bucket, attributedFeedback{
				respondent: respondent,
				text:       ans.Text,
				rating:     ans.Rating,
			})
		}
	}
	return groups
}

// anonymize shuffles each bucket independently and labels its items "Peer 1".."Peer K".
// Labels are per criterion: "Peer 1" of two criteria need not be the same person.
func anonymize(groups map[string][]attributedFeedback, shuffle shuffleFunc) map[string][]AnonymousFeedback {
	out := make(map[string][]AnonymousFeedback, len(groups))
	for id, items := range groups {
		shuffled := make([]attributedFeedback, len(items))
		copy(shuffled, items)
		shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		anon := make([]AnonymousFeedback, 0, len(shuffled))
		for i, item := range shuffled {
			anon = append(anon, AnonymousFeedback{
				AnonymousID: fmt.Sprintf("Peer %d", i+1),
				Text:        item.text,
				Rating:      item.rating,
			})
		}
		out[id] = anon
	}
	return out
}

// averageRating returns the mean of ratings rounded to 2 decimals, or 0 without ratings.
func averageRating(ratings []int) float64 {
	if len(ratings) == 0 {
		return 0
	}
	var sum int
	for _, r := range ratings {
		sum += r
	}
	return math.Round(float64(sum)/float64(len(ratings))*100) / 100
}

func anonymousRatings(items []AnonymousFeedback) []int {
	ratings := make([]int, 0, len(items))
	for _, it := range items {
		ratings = append(ratings, it.Rating)
	}
	return ratings
}

// aggregateResults builds the instructor's per criterion results, in criteria order.
func aggregateResults(criteria []Criterion, responses []Response) []CriterionResult {
	ids := criterionIDs(criteria, responses)
	labels := make(map[string]string, len(criteria))
	for _, c := range criteria {
		labels[c.ID] = c.Label
	}

	results := make([]CriterionResult, 0, len(ids))
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		label, ok := labels[id]
		if !ok {
			label = id
		}
		results = append(results, CriterionResult{
			CriterionID:    id,
			CriterionLabel: label,
			Ratings:        []int{},
			Responses:      []ResponseDetail{},
		})
		index[id] = i
	}

	for _, r := range responses {
		var respondentName, targetName string
		if r.Respondent != nil {
			respondentName = r.Respondent.DisplayName()
		}
		if r.TargetStudent != nil {
			targetName = r.TargetStudent.DisplayName()
		}
		for id, ans := range r.Answers {
			i, ok := index[id]
			if !ok {
				continue
			}
			results[i].TotalResponses++
			results[i].Ratings = append(results[i].Ratings, ans.Rating)
			results[i].Responses = append(results[i].Responses, ResponseDetail{
				RespondentName:    respondentName,
				TargetStudentName: targetName,
				Rating:            ans.Rating,
				Text:              ans.Text,
			})
		}
	}

	for i := range results {
		results[i].AverageRating = averageRating(results[i].Ratings)
	}
	return results
}
