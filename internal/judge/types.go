package judge

import (
	"fmt"
	"strings"
)

// statusEnvelope mirrors the judge API's user.status response.
type statusEnvelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  []rawSubmission `json:"result"`
}

type rawSubmission struct {
	ID                  int64      `json:"id"`
	ContestID           int        `json:"contestId"`
	CreationTimeSeconds int64      `json:"creationTimeSeconds"`
	Verdict             string     `json:"verdict"`
	Problem             rawProblem `json:"problem"`
}

type rawProblem struct {
	ContestID int    `json:"contestId"`
	Index     string `json:"index"`
	Name      string `json:"name"`
	Rating    int    `json:"rating"`
}

// standingsEnvelope mirrors the contest.standings response; only the problem
// list is consumed.
type standingsEnvelope struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	Result  struct {
		Problems []rawProblem `json:"problems"`
	} `json:"result"`
}

// ParseProblemToken splits a compact problem token like "1850A" or "1850/A"
// into its contest id and index.
func ParseProblemToken(s string) (contestID int, index string, err error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "/", "")
	if s == "" {
		return 0, "", fmt.Errorf("empty problem token")
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return 0, "", fmt.Errorf("malformed problem token %q", s)
	}
	if _, err := fmt.Sscanf(s[:i], "%d", &contestID); err != nil {
		return 0, "", fmt.Errorf("malformed contest id in %q", s)
	}
	return contestID, s[i:], nil
}
