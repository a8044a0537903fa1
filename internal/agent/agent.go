// Package agent is the participant-side policy around the check-in engine:
// it decides what failed fetches turn into and keeps local reminders in
// step with the remote catalog.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soaringjerry/FlashTrack/internal/checkin"
	"github.com/soaringjerry/FlashTrack/internal/client"
	"github.com/soaringjerry/FlashTrack/internal/device"
	"github.com/soaringjerry/FlashTrack/internal/models"
	"github.com/soaringjerry/FlashTrack/internal/services"
)

// ErrNotOnboarded is returned when no participant code is stored locally.
var ErrNotOnboarded = device.ErrNoCode

var (
	// ErrStudyNotFinished is returned before the last study day.
	ErrStudyNotFinished = errors.New("the end-of-study questionnaire opens on the last study day")
	// ErrEndOfStudyDone is returned when the questionnaire was already answered.
	ErrEndOfStudyDone = errors.New("the end-of-study questionnaire was already submitted")
)

// Remote is the subset of the API client the agent needs.
type Remote interface {
	FetchCatalog(ctx context.Context) (*checkin.Catalog, error)
	FetchQuestions(ctx context.Context) ([]models.Question, error)
	FetchSubmissions(ctx context.Context, code string, since time.Time) ([]models.Submission, error)
	FetchStartDate(ctx context.Context, code string, loc *time.Location) (*time.Time, error)
	CheckCode(ctx context.Context, code string) (bool, error)
	Onboard(ctx context.Context, req client.OnboardRequest) (*models.Participant, error)
	Submit(ctx context.Context, code string, answers map[int]int, createdAt time.Time) (*models.Submission, error)
	DeleteData(ctx context.Context, code string) error
	FetchEndOfStudyQuestions(ctx context.Context) ([]models.EndOfStudyQuestion, error)
	HasEndOfStudyResponse(ctx context.Context, code string) (bool, error)
	SubmitEndOfStudy(ctx context.Context, code string, ratings map[int]int) (*models.EndOfStudyResponse, error)
}

// LocalState holds the participant code on the device.
type LocalState interface {
	SaveCode(ctx context.Context, code string) error
	LoadCode(ctx context.Context) (string, error)
	Wipe(ctx context.Context) error
}

// ReminderScheduler is satisfied by *reminders.Scheduler.
type ReminderScheduler interface {
	Schedule(ctx context.Context, c *checkin.Catalog) error
	Cancel(ctx context.Context) error
}

type Options struct {
	TotalDays int
	Location  *time.Location
	Locale    string
	Logger    *slog.Logger
}

type Agent struct {
	remote    Remote
	local     LocalState
	scheduler ReminderScheduler
	totalDays int
	loc       *time.Location
	locale    string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	catalog *checkin.Catalog
}

func New(remote Remote, local LocalState, scheduler ReminderScheduler, opts Options) *Agent {
	if opts.TotalDays < 1 {
		opts.TotalDays = checkin.DefaultStudyDays
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Agent{
		remote:    remote,
		local:     local,
		scheduler: scheduler,
		totalDays: opts.TotalDays,
		loc:       opts.Location,
		locale:    opts.Locale,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// Catalog returns the session snapshot, fetching it on first use.
func (a *Agent) Catalog(ctx context.Context) (*checkin.Catalog, error) {
	a.mu.Lock()
	c := a.catalog
	a.mu.Unlock()
	if c != nil {
		return c, nil
	}
	return a.refresh(ctx)
}

func (a *Agent) refresh(ctx context.Context) (*checkin.Catalog, error) {
	c, err := a.remote.FetchCatalog(ctx)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.catalog = c
	a.mu.Unlock()
	return c, nil
}

func (a *Agent) code(ctx context.Context) (string, error) {
	code, err := a.local.LoadCode(ctx)
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", ErrNotOnboarded
	}
	return code, nil
}

// Status builds the read model. Catalog problems are returned; a failed
// submission fetch leaves every window pending and a missing or
// unreachable start date counts as day 1.
func (a *Agent) Status(ctx context.Context) (*checkin.CheckInStatus, error) {
	code, err := a.code(ctx)
	if err != nil {
		return nil, err
	}
	now := a.now().In(a.loc)
	since := checkin.StartOfDay(now).AddDate(0, 0, -1)

	var (
		g       errgroup.Group
		catalog *checkin.Catalog
		subs    []models.Submission
		start   *time.Time
	)
	g.Go(func() error {
		c, err := a.Catalog(ctx)
		catalog = c
		return err
	})
	g.Go(func() error {
		s, err := a.remote.FetchSubmissions(ctx, code, since)
		if err != nil {
			a.logger.Warn("submissions unavailable, showing all windows as pending", slog.String("error", err.Error()))
			return nil
		}
		subs = s
		return nil
	})
	g.Go(func() error {
		s, err := a.remote.FetchStartDate(ctx, code, a.loc)
		if err != nil {
			a.logger.Warn("start date unavailable", slog.String("error", err.Error()))
			return nil
		}
		start = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load time windows: %w", err)
	}

	day, err := checkin.CurrentDay(start, now, a.totalDays)
	if errors.Is(err, checkin.ErrMissingStartDate) {
		day = 1
	} else if err != nil {
		return nil, err
	}
	times := make([]time.Time, 0, len(subs))
	for _, s := range subs {
		times = append(times, s.CreatedAt)
	}
	return checkin.BuildStatus(checkin.StatusInput{
		Catalog:     catalog,
		Now:         now,
		StudyDay:    day,
		TotalDays:   a.totalDays,
		Submissions: times,
	})
}

// Reschedule fetches the catalog afresh and replaces every reminder.
func (a *Agent) Reschedule(ctx context.Context) error {
	c, err := a.refresh(ctx)
	if err != nil {
		return err
	}
	return a.scheduler.Schedule(ctx, c)
}

// OnboardResult reports a completed onboarding. Reminders holds the
// scheduling error, if any; onboarding does not fail because of it.
type OnboardResult struct {
	Participant *models.Participant
	Reminders   error
}

// Onboard registers code remotely, stores it and schedules reminders.
func (a *Agent) Onboard(ctx context.Context, accessCode, code string) (*OnboardResult, error) {
	if err := services.ValidateCode(code); err != nil {
		return nil, err
	}
	p, err := a.remote.Onboard(ctx, client.OnboardRequest{
		AccessCode: accessCode,
		Code:       code,
		StartDate:  a.now().In(a.loc).Format(time.DateOnly),
		Locale:     a.locale,
	})
	if err != nil {
		return nil, err
	}
	if err := a.local.SaveCode(ctx, code); err != nil {
		return nil, fmt.Errorf("save code: %w", err)
	}
	res := &OnboardResult{Participant: p}
	if err := a.Reschedule(ctx); err != nil {
		a.logger.Warn("reminders not scheduled after onboarding", slog.String("error", err.Error()))
		res.Reminders = err
	}
	return res, nil
}

// CheckCode validates code locally before asking the server whether it is free.
func (a *Agent) CheckCode(ctx context.Context, code string) (bool, error) {
	if err := services.ValidateCode(code); err != nil {
		return false, err
	}
	return a.remote.CheckCode(ctx, code)
}

// Code returns the stored participant code.
func (a *Agent) Code(ctx context.Context) (string, error) { return a.code(ctx) }

func (a *Agent) Questions(ctx context.Context) ([]models.Question, error) {
	return a.remote.FetchQuestions(ctx)
}

// Submit sends one check-in stamped with the current time.
func (a *Agent) Submit(ctx context.Context, answers map[int]int) (*models.Submission, error) {
	code, err := a.code(ctx)
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return nil, services.NewInvalidError("at least one answer is required")
	}
	for id, n := range answers {
		if n < 0 {
			return nil, services.NewInvalidError(fmt.Sprintf("answer to question %d must not be negative", id))
		}
	}
	return a.remote.Submit(ctx, code, answers, a.now())
}

// DeleteData purges the participant remotely, wipes the device and
// cancels reminders. Local cleanup runs even when the remote purge fails
// so the device never keeps a code the participant asked to forget.
func (a *Agent) DeleteData(ctx context.Context) error {
	code, err := a.code(ctx)
	if err != nil {
		return err
	}
	remoteErr := a.remote.DeleteData(ctx, code)
	if remoteErr != nil {
		a.logger.Error("remote delete failed", slog.String("error", remoteErr.Error()))
	}
	cancelErr := a.scheduler.Cancel(ctx)
	wipeErr := a.local.Wipe(ctx)

	a.mu.Lock()
	a.catalog = nil
	a.mu.Unlock()
	return errors.Join(remoteErr, cancelErr, wipeErr)
}

// EndOfStudyState describes the final questionnaire. Questions is filled
// only while it is open: on the last study day and not yet answered.
type EndOfStudyState struct {
	StudyDay  int
	TotalDays int
	Submitted bool
	Questions []models.EndOfStudyQuestion
}

func (st *EndOfStudyState) Open() bool {
	return st.StudyDay == st.TotalDays && !st.Submitted
}

// studyDay is the participant's day counted from the server's start date.
// Unlike Status it does not guess when the start date is unreachable.
func (a *Agent) studyDay(ctx context.Context, code string) (int, error) {
	start, err := a.remote.FetchStartDate(ctx, code, a.loc)
	if err != nil {
		return 0, fmt.Errorf("load start date: %w", err)
	}
	day, err := checkin.CurrentDay(start, a.now().In(a.loc), a.totalDays)
	if errors.Is(err, checkin.ErrMissingStartDate) {
		return 1, nil
	}
	return day, err
}

// EndOfStudy reports whether the final questionnaire is due and, if so,
// what it asks.
func (a *Agent) EndOfStudy(ctx context.Context) (*EndOfStudyState, error) {
	code, err := a.code(ctx)
	if err != nil {
		return nil, err
	}
	day, err := a.studyDay(ctx, code)
	if err != nil {
		return nil, err
	}
	st := &EndOfStudyState{StudyDay: day, TotalDays: a.totalDays}
	if day < a.totalDays {
		return st, nil
	}
	if st.Submitted, err = a.remote.HasEndOfStudyResponse(ctx, code); err != nil {
		return nil, err
	}
	if st.Submitted {
		return st, nil
	}
	if st.Questions, err = a.remote.FetchEndOfStudyQuestions(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// SubmitEndOfStudy sends the final ratings, each between 0 and 10.
func (a *Agent) SubmitEndOfStudy(ctx context.Context, ratings map[int]int) (*models.EndOfStudyResponse, error) {
	code, err := a.code(ctx)
	if err != nil {
		return nil, err
	}
	if len(ratings) == 0 {
		return nil, services.NewInvalidError("at least one rating is required")
	}
	for id, v := range ratings {
		if v < services.MinRating || v > services.MaxRating {
			return nil, services.NewInvalidError(fmt.Sprintf("rating for question %d must be between 0 and 10", id))
		}
	}
	day, err := a.studyDay(ctx, code)
	if err != nil {
		return nil, err
	}
	if day < a.totalDays {
		return nil, ErrStudyNotFinished
	}
	res, err := a.remote.SubmitEndOfStudy(ctx, code, ratings)
	if client.IsConflict(err) {
		return nil, ErrEndOfStudyDone
	}
	return res, err
}
