package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/seonghun126/algoduel-bot/internal/domain"
	"github.com/seonghun126/algoduel-bot/internal/judge"
)

// judgecheck is a connectivity probe for the judge API: it resolves a problem
// and lists a handle's recent submissions to it.
//
//	JUDGE_BASE_URL=https://codeforces.com/api HANDLE=tourist PROBLEM=1850A go run ./cmd/judgecheck
func main() {
	baseURL := os.Getenv("JUDGE_BASE_URL")
	if baseURL == "" {
		baseURL = "https://codeforces.com/api"
	}
	handle := os.Getenv("HANDLE")
	problemToken := os.Getenv("PROBLEM")
	if handle == "" || problemToken == "" {
		log.Fatal("HANDLE and PROBLEM are required")
	}

	contestID, index, err := judge.ParseProblemToken(problemToken)
	if err != nil {
		log.Fatalf("problem token error: %v", err)
	}
	ref := domain.ProblemRef{ContestID: contestID, Index: index}

	client := judge.NewClient(baseURL, judge.WithTimeout(8*time.Second), judge.WithRetry(2))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	problem, err := client.GetProblem(ctx, ref)
	if err != nil {
		log.Printf("problem lookup error: %v", err)
	} else {
		log.Printf("problem ok: %s %q rating=%d", problem.Ref.Key(), problem.Name, problem.Rating)
	}

	subs, err := client.QuerySubmissions(ctx, ref, handle)
	if err != nil {
		log.Fatalf("submissions error: %v", err)
	}
	log.Printf("submissions ok: %d records for %s on %s", len(subs), handle, ref.Key())
	for i, s := range subs {
		if i >= 5 {
			break
		}
		log.Printf("  #%d verdict=%s at=%s", s.ID, s.Verdict, s.SubmittedAt.Format(time.RFC3339))
	}
}
