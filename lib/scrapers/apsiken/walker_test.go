package apsiken

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kakomon-harvester/lib/corpus"
	"kakomon-harvester/lib/crawljournal"
	"kakomon-harvester/lib/fetch"
	"kakomon-harvester/lib/sqliteutil"
	"kakomon-harvester/lib/telemetry"
)

func TestMain(m *testing.M) {
	cleanup := telemetry.SetupForTesting("test:apsiken")
	defer cleanup()
	m.Run()
}

const testSid = "ab12cd34"

// quizServer simulates the multi-step quiz flow: a GET entry page
// hands out the session id, and a POST with qno=k serves the page for
// question k+1 carrying fresh echo tokens. The entry page issues no
// tokens; the first POST must send blank ones.
type quizServer struct {
	mu sync.Mutex
	// remaining stalled responses per qno
	stalls map[int]int
	// POST calls per qno
	posts map[int]int
	// token replay violations seen
	badTokens []string
	total     int
	strict    bool
}

func newQuizServer(total int) *quizServer {
	return &quizServer{
		stalls: map[int]int{},
		posts:  map[int]int{},
		total:  total,
	}
}

// token is the _q value issued on the page showing question n.
func (s *quizServer) token(n int) string {
	return fmt.Sprintf("tokp%d", n)
}

func (s *quizServer) entryPage() string {
	return fmt.Sprintf(`<html><body>
<p>選択中の問題%d問</p>
<form>
<input type="hidden" name="sid" value="%s">
</form>
</body></html>`, s.total, testSid)
}

func (s *quizServer) questionPage(n int) string {
	return fmt.Sprintf(`<html><body>
<h3 class="qno">第%d問</h3>
<div>問題文その%d</div>
<ul class="selectList">
<li><div id="select_a">選択肢ア</div></li>
<li><div id="select_i">選択肢イ</div></li>
<li><div id="select_u">選択肢ウ</div></li>
<li><div id="select_e">選択肢エ</div></li>
</ul>
<span id="answerChar">イ</span>
<div id="kaisetsu">解説%d</div>
<h3>分類</h3>
<div>テクノロジ系»基礎理論</div>
<form>
<input type="hidden" name="_q" value="%s">
<input type="hidden" name="_r" value="r%d">
<input type="hidden" name="_c" value="c%d">
<input type="hidden" name="result" value="1">
</form>
</body></html>`, n, n, n, s.token(n), n, n)
}

func (s *quizServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, s.entryPage())
			return
		}
		_ = r.ParseForm()
		var qno int
		fmt.Sscanf(r.FormValue("qno"), "%d", &qno)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.posts[qno]++
		if r.FormValue("sid") != testSid {
			s.badTokens = append(s.badTokens, "sid="+r.FormValue("sid"))
		}
		if s.strict {
			// qno=k must replay the tokens issued on the page for
			// question k; the first step has none to replay
			want := ""
			if qno > 0 {
				want = s.token(qno)
			}
			if r.FormValue("_q") != want {
				s.badTokens = append(s.badTokens,
					fmt.Sprintf("qno %d got _q=%q want %q", qno, r.FormValue("_q"), want))
			}
			if r.FormValue("result") != "0" {
				s.badTokens = append(s.badTokens,
					fmt.Sprintf("qno %d got result=%q", qno, r.FormValue("result")))
			}
		}
		if s.stalls[qno] > 0 {
			s.stalls[qno]--
			fmt.Fprint(w, `<html><body>エラーが発生しました</body></html>`)
			return
		}
		fmt.Fprint(w, s.questionPage(qno+1))
	})
}

func walkSession(t *testing.T, server *quizServer, opts WalkerOptions) (*corpus.Store, WalkResult, error) {
	t.Helper()
	srv := httptest.NewServer(server.handler())
	t.Cleanup(srv.Close)

	client, err := fetch.NewClient(fetch.Options{
		CacheDir: t.TempDir(),
		Throttle: -1,
	})
	require.NoError(t, err)

	if opts.StallPause == 0 {
		opts.StallPause = time.Millisecond
	}
	store := corpus.NewStore(corpus.StoreOptions{})
	walker := NewWalker(client, store, opts)
	result, err := walker.Walk(context.Background(), SessionMeta{
		Label:     "令和6年春期",
		Year:      2024,
		TimesCode: "06_haru",
		BaseURL:   srv.URL,
	})
	return store, result, err
}

func TestWalkHarvestsAllQuestions(t *testing.T) {
	server := newQuizServer(3)
	server.strict = true

	store, result, err := walkSession(t, server, WalkerOptions{})
	require.NoError(t, err)

	require.Empty(t, server.badTokens)
	require.Equal(t, testSid, result.Sid)
	require.Equal(t, 3, result.Advanced)
	require.Empty(t, result.Abandoned)
	require.Equal(t, 3, result.RecordsAdded)
	require.Zero(t, result.MissingAnswers)
	// one post per step, no hidden extra attempts
	require.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, server.posts)

	records := store.All()
	require.Len(t, records, 3)
	require.Equal(t, "p2024-q001", records[0].ID)
	require.Equal(t, "p2024-q003", records[2].ID)
	require.Equal(t, 1, records[0].AnswerIndex)
	require.Equal(t, "問題文その2", *records[1].Text)
}

func TestWalkRecoversFromStall(t *testing.T) {
	server := newQuizServer(3)
	server.stalls[1] = 2
	// strict checks that qno=2 carries the tokens issued by qno=1's
	// eventually-successful attempt, not stale ones
	server.strict = true

	store, result, err := walkSession(t, server, WalkerOptions{})
	require.NoError(t, err)

	require.Empty(t, server.badTokens)
	require.Equal(t, 3, result.Advanced)
	require.Empty(t, result.Abandoned)
	require.Equal(t, 3, store.Len())
	// two stalled attempts plus the one that advanced
	require.Equal(t, 3, server.posts[1])
}

func TestWalkAbandonsExhaustedStep(t *testing.T) {
	server := newQuizServer(3)
	server.stalls[1] = 100

	store, result, err := walkSession(t, server, WalkerOptions{})
	require.NoError(t, err)

	require.Equal(t, 2, result.Advanced)
	require.Equal(t, []int{1}, result.Abandoned)
	// the default budget is 3 attempts total
	require.Equal(t, 3, server.posts[1])

	records := store.All()
	require.Len(t, records, 2)
	require.Equal(t, "p2024-q001", records[0].ID)
	require.Equal(t, "p2024-q003", records[1].ID)
}

func TestWalkSynthesizesSequentialIDs(t *testing.T) {
	server := newQuizServer(3)
	server.stalls[2] = 100

	srv := httptest.NewServer(server.handler())
	t.Cleanup(srv.Close)

	client, err := fetch.NewClient(fetch.Options{CacheDir: t.TempDir(), Throttle: -1})
	require.NoError(t, err)

	store := corpus.NewStore(corpus.StoreOptions{})
	walker := NewWalker(client, store, WalkerOptions{
		StallPause: time.Millisecond,
	})
	// an extractor that cannot derive identities from the page
	walker.extract = func(page string, meta SessionMeta) []corpus.Record {
		records := ExtractQuestions(page, meta)
		for i := range records {
			records[i].ID = ""
		}
		return records
	}

	result, err := walker.Walk(context.Background(), SessionMeta{
		Label: "令和6年春期", Year: 2024, TimesCode: "06_haru", BaseURL: srv.URL,
	})
	require.NoError(t, err)
	require.Equal(t, []int{2}, result.Abandoned)

	records := store.All()
	require.Len(t, records, 2)
	require.Equal(t, "p2024-q001", records[0].ID)
	require.Equal(t, "p2024-q002", records[1].ID)
}

func TestWalkFailsWithoutSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>メンテナンス中</body></html>`)
	}))
	defer srv.Close()

	client, err := fetch.NewClient(fetch.Options{CacheDir: t.TempDir(), Throttle: -1})
	require.NoError(t, err)

	walker := NewWalker(client, corpus.NewStore(corpus.StoreOptions{}), WalkerOptions{})
	_, err = walker.Walk(context.Background(), SessionMeta{
		Label: "令和6年春期", Year: 2024, TimesCode: "06_haru", BaseURL: srv.URL,
	})
	require.ErrorIs(t, err, ErrNoSessionID)
}

func TestWalkRecordsJournal(t *testing.T) {
	db, err := sqliteutil.OpenDB(crawljournal.Schema, ":memory:")
	require.NoError(t, err)
	defer db.Close()
	journal := crawljournal.NewJournal(db)

	server := newQuizServer(2)
	server.stalls[1] = 100

	_, result, err := walkSession(t, server, WalkerOptions{
		StallRetries: 1,
		Journal:      &journal,
	})
	require.NoError(t, err)
	require.Equal(t, []int{1}, result.Abandoned)

	summaries, err := journal.SessionSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, testSid, summaries[0].Sid)
	require.Equal(t, 1, summaries[0].Advanced)
	require.Equal(t, 1, summaries[0].Abandoned)
}
