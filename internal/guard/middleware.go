package guard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/studyhub/internal/auth"
)

// DefaultSettleTimeout は状態の確定を待つ上限。
const DefaultSettleTimeout = 10 * time.Second

// StateWaiter は状態が確定するまで待つ。auth.Serviceが満たす。
type StateWaiter interface {
	WaitSettled(ctx context.Context) (auth.State, error)
}

// Subject はリクエストに紐づくクライアントの状態と再検証手段。
type Subject struct {
	States   StateWaiter
	Verifier Verifier
	Key      string
}

// SubjectLookup はリクエストからSubjectを取り出す。見つからない場合はfalse。
type SubjectLookup func(r *http.Request) (Subject, bool)

type stateContextKey struct{}

// StateFromContext はガードを通過したリクエストの状態を返す。
func StateFromContext(ctx context.Context) (auth.State, bool) {
	st, ok := ctx.Value(stateContextKey{}).(auth.State)
	return st, ok
}

// Middleware はreqを満たさないリクエストを302で遷移させるミドルウェアを返す。
// 状態が確定するまで待ち、待ちきれない場合は503を返す。
// Subjectが無いリクエストは未ログインとして扱う。
func (g *Guard) Middleware(req Requirements, lookup SubjectLookup) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.RequestURI()

			subject, ok := lookup(r)
			if !ok || subject.States == nil {
				d := g.Evaluate(r.Context(), auth.State{Resolved: true}, nil, req, path, "")
				redirect(w, r, d)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), g.settleTimeout)
			st, err := subject.States.WaitSettled(ctx)
			cancel()
			if err != nil {
				slog.Warn("セッション状態の確定を待てませんでした",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}

			d := g.Evaluate(r.Context(), st, subject.Verifier, req, path, subject.Key)
			switch d.Outcome {
			case OutcomeRender:
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), stateContextKey{}, st)))
			case OutcomeRedirect:
				redirect(w, r, d)
			default:
				writeLoading(w)
			}
		})
	}
}

// RedirectLocation はDecisionの遷移先にfromクエリを付けたURLを返す。
func RedirectLocation(d Decision) string {
	if d.From == "" {
		return d.Location
	}
	return d.Location + "?" + url.Values{"from": {d.From}}.Encode()
}

func redirect(w http.ResponseWriter, r *http.Request, d Decision) {
	http.Redirect(w, r, RedirectLocation(d), http.StatusFound)
}

func writeLoading(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]string{"status": "loading"})
}
