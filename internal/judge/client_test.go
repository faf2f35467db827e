package judge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seonghun126/algoduel-bot/internal/domain"
)

func TestQuerySubmissionsFiltersProblem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user.status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("handle"); got != "tourist" {
			t.Errorf("unexpected handle %q", got)
		}
		fmt.Fprint(w, `{"status":"OK","result":[
			{"id":1,"contestId":1850,"creationTimeSeconds":1700000300,"verdict":"OK","problem":{"contestId":1850,"index":"A"}},
			{"id":2,"contestId":1850,"creationTimeSeconds":1700000400,"verdict":"WRONG_ANSWER","problem":{"contestId":1850,"index":"B"}},
			{"id":3,"contestId":1850,"creationTimeSeconds":1700000500,"problem":{"contestId":1850,"index":"A"}}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(1))
	subs, err := c.QuerySubmissions(context.Background(), domain.ProblemRef{ContestID: 1850, Index: "A"}, "tourist")
	if err != nil {
		t.Fatalf("QuerySubmissions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions for 1850A, got %d", len(subs))
	}
	if !subs[0].Accepted() {
		t.Fatalf("first submission should be accepted")
	}
	if subs[1].Final() {
		t.Fatalf("verdict-less submission must be non-final")
	}
}

func TestQuerySubmissionsFailedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"FAILED","comment":"handle: User with handle nobody not found"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(1))
	if _, err := c.QuerySubmissions(context.Background(), domain.ProblemRef{ContestID: 1, Index: "A"}, "nobody"); err == nil {
		t.Fatalf("expected error for FAILED status")
	}
}

func TestQuerySubmissionsRetriesServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"status":"OK","result":[]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(2))
	subs, err := c.QuerySubmissions(context.Background(), domain.ProblemRef{ContestID: 1, Index: "A"}, "someone")
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if len(subs) != 0 || calls != 2 {
		t.Fatalf("expected empty result after 2 calls, got %d subs, %d calls", len(subs), calls)
	}
}

func TestGetProblem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contest.standings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("contestId"); got != "1850" {
			t.Errorf("unexpected contestId %q", got)
		}
		fmt.Fprint(w, `{"status":"OK","result":{"problems":[
			{"contestId":1850,"index":"A","name":"To My Critics","rating":800},
			{"contestId":1850,"index":"B","name":"Ten Words of Wisdom","rating":800}
		]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(1))
	p, err := c.GetProblem(context.Background(), domain.ProblemRef{ContestID: 1850, Index: "a"})
	if err != nil {
		t.Fatalf("GetProblem: %v", err)
	}
	if p.Name != "To My Critics" || p.Rating != 800 || p.Ref.Index != "A" {
		t.Fatalf("unexpected problem %+v", p)
	}

	if _, err := c.GetProblem(context.Background(), domain.ProblemRef{ContestID: 1850, Index: "Z"}); err == nil {
		t.Fatalf("expected error for unknown index")
	}
}

func TestParseProblemToken(t *testing.T) {
	id, idx, err := ParseProblemToken("1850a")
	if err != nil || id != 1850 || idx != "A" {
		t.Fatalf("parse 1850a: id=%d idx=%q err=%v", id, idx, err)
	}
	id, idx, err = ParseProblemToken("1850/C1")
	if err != nil || id != 1850 || idx != "C1" {
		t.Fatalf("parse 1850/C1: id=%d idx=%q err=%v", id, idx, err)
	}
	if _, _, err := ParseProblemToken("abc"); err == nil {
		t.Fatalf("expected error for token without contest id")
	}
	if _, _, err := ParseProblemToken("1850"); err == nil {
		t.Fatalf("expected error for token without index")
	}
}
