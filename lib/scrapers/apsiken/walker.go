package apsiken

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"

	"kakomon-harvester/lib/corpus"
	"kakomon-harvester/lib/crawljournal"
	"kakomon-harvester/lib/fetch"
	"kakomon-harvester/lib/htmlutil"
	"kakomon-harvester/lib/timezone"
)

// ErrNoSessionID is returned when the quiz entry page does not hand
// out a session id, which makes the whole walk impossible.
var ErrNoSessionID = errors.New("entry page has no session id")

var sidPattern = regexp.MustCompile(`^[0-9a-f]+$`)

type WalkerOptions struct {
	// MaxSteps caps how many questions a walk requests. 0 means walk
	// until the page stops advancing.
	MaxSteps int
	// StallRetries is the total attempts a non-advancing step gets
	// before being abandoned. Defaults to 3.
	StallRetries int
	// StallPause is the wait between stall attempts. Defaults to 1s.
	StallPause time.Duration
	// Journal records per-step outcomes when set.
	Journal *crawljournal.Journal
}

// Walker drives one quiz session from its entry page through every
// question, feeding extracted records into the store.
type Walker struct {
	fetcher *fetch.Client
	store   *corpus.Store
	extract Extractor
	opts    WalkerOptions
}

func NewWalker(fetcher *fetch.Client, store *corpus.Store, opts WalkerOptions) *Walker {
	if opts.StallRetries == 0 {
		opts.StallRetries = 3
	}
	if opts.StallPause == 0 {
		opts.StallPause = time.Second
	}
	return &Walker{
		fetcher: fetcher,
		store:   store,
		extract: ExtractQuestions,
		opts:    opts,
	}
}

// WalkResult summarizes one session walk.
type WalkResult struct {
	Sid            string
	Steps          int
	Advanced       int
	Abandoned      []int
	RecordsAdded   int
	MissingAnswers int
}

// Walk runs the session's quiz flow to completion. Steps that stall
// past their retry budget are abandoned and the walk moves on, so a
// partial harvest still lands in the store.
func (w *Walker) Walk(ctx context.Context, meta SessionMeta) (WalkResult, error) {
	ctx, span := tracer.Start(ctx, "Walk")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.label", meta.Label),
		attribute.Int("session.year", meta.Year),
	)

	entry, err := w.fetcher.Do(ctx, fetch.Request{
		Method:   "GET",
		URL:      meta.BaseURL,
		CacheKey: fmt.Sprintf("entry-%s", meta.TimesCode),
	})
	if err != nil {
		return WalkResult{}, fmt.Errorf("fetching entry page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(entry.Text()))
	if err != nil {
		return WalkResult{}, fmt.Errorf("parsing entry page: %w", err)
	}
	sid := htmlutil.HiddenValue(doc, "sid")
	if sid == "" || !sidPattern.MatchString(sid) {
		return WalkResult{}, fmt.Errorf("%w (url %s)", ErrNoSessionID, meta.BaseURL)
	}

	startTime := strconv.FormatInt(timezone.Now().Unix(), 10)
	// the first step sends blank echo tokens; the site only starts
	// issuing them from the first question page onward
	carry := carrySet{Result: "0"}
	total := ParseTotalQuestions(entry.Text())
	maxSteps := w.opts.MaxSteps
	if maxSteps == 0 || (total > 0 && total < maxSteps) {
		maxSteps = total
	}
	slog.Info("starting session walk",
		"label", meta.Label, "sid", sid, "questions", total)

	var journalID int64
	if w.opts.Journal != nil {
		journalID, err = w.opts.Journal.StartSession(
			ctx, meta.Label, meta.Year, sid, timezone.Now())
		if err != nil {
			return WalkResult{}, fmt.Errorf("starting journal session: %w", err)
		}
	}

	result := WalkResult{Sid: sid}
	addedBefore := w.store.Added()
	for step := 0; maxSteps == 0 || step < maxSteps; step++ {
		page, attempts, err := w.advanceStep(ctx, meta, sid, startTime, step, carry)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Steps++
			result.Abandoned = append(result.Abandoned, step)
			slog.Warn("abandoning step", "step", step, "err", err)
			w.journalStep(ctx, journalID, step, crawljournal.StepAbandoned, attempts)
			if maxSteps == 0 {
				break
			}
			continue
		}
		result.Steps++
		result.Advanced++
		w.journalStep(ctx, journalID, step, crawljournal.StepAdvanced, attempts)

		w.harvest(page, meta, step, &result)

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
		if err != nil {
			return result, fmt.Errorf("parsing step %d page: %w", step, err)
		}
		carry = readCarrySet(doc)
		// the result token on the page reflects our (blank) answer;
		// the site expects 0 for an answered question
		carry.Result = "0"
	}

	result.RecordsAdded = w.store.Added() - addedBefore
	if w.opts.Journal != nil {
		if err := w.opts.Journal.FinishSession(ctx, journalID, result.RecordsAdded); err != nil {
			slog.Warn("finishing journal session", "err", err)
		}
	}
	slog.Info("session walk done",
		"label", meta.Label,
		"advanced", result.Advanced,
		"abandoned", len(result.Abandoned),
		"records", result.RecordsAdded)
	return result, nil
}

// advanceStep posts the step form until the page shows the expected
// question marker, retrying stalls up to the configured budget. The
// site serves question step+1 for qno=step. Cache keys vary per
// attempt so a retry reaches the network instead of replaying the
// cached stalled page.
func (w *Walker) advanceStep(ctx context.Context, meta SessionMeta, sid, startTime string, step int, carry carrySet) (string, int, error) {
	marker := fmt.Sprintf("第%d問", step+1)
	var lastErr error
	for attempt := 0; attempt < w.opts.StallRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying stalled step", "step", step, "attempt", attempt)
			if err := sleepCtx(ctx, w.opts.StallPause); err != nil {
				return "", attempt, err
			}
		}
		res, err := w.fetcher.Do(ctx, fetch.Request{
			Method:   "POST",
			URL:      meta.BaseURL,
			Form:     stepForm(meta, step, sid, startTime, carry),
			Headers:  map[string]string{"Referer": meta.BaseURL},
			CacheKey: fmt.Sprintf("%s-q%d-a%d", sid, step, attempt),
		})
		if err != nil {
			lastErr = err
			continue
		}
		page := res.Text()
		if !strings.Contains(page, marker) {
			lastErr = fmt.Errorf("step %d stalled: page is missing %s", step, marker)
			continue
		}
		return page, attempt + 1, nil
	}
	return "", w.opts.StallRetries, lastErr
}

// harvest extracts whatever the page offers and stores it. A page that
// yields nothing is logged but does not fail the walk.
func (w *Walker) harvest(page string, meta SessionMeta, step int, result *WalkResult) {
	records := w.extract(page, meta)
	if len(records) == 0 {
		slog.Warn("step page yielded no questions", "label", meta.Label, "step", step)
		return
	}
	for _, record := range records {
		if record.ID == "" {
			record.ID = corpus.SynthesizeID(meta.Year, w.store.NextSequence(meta.Year))
		}
		if record.AnswerIndex == corpus.UnknownAnswer {
			result.MissingAnswers++
			slog.Warn("question has no recognizable answer", "id", record.ID)
		}
		w.store.Add(record)
	}
}

func (w *Walker) journalStep(ctx context.Context, sessionID int64, step int, status string, attempts int) {
	if w.opts.Journal == nil {
		return
	}
	err := w.opts.Journal.RecordStep(ctx, sessionID, step, status, attempts, timezone.Now())
	if err != nil {
		slog.Warn("recording journal step", "step", step, "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
