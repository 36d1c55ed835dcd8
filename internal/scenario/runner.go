package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/internal/browser"
	"github.com/shehryarbajwa/smokeharness/internal/events"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// pollInterval is how often count and text assertions re-read the page
const pollInterval = 100 * time.Millisecond

// Options configure a Runner
type Options struct {
	RunID   string
	BaseURL string
	Profile models.EnvironmentProfile
	// PauseAfterEach holds visible runs after every step
	PauseAfterEach time.Duration
	// Breakpoints logs every step before it executes
	Breakpoints bool
	Emitter     events.Emitter
	Logger      *zap.Logger
}

// Runner executes scenarios. It is safe for concurrent use across sessions.
type Runner struct {
	opts   Options
	base   *url.URL
	logger *zap.Logger
}

// NewRunner validates opts and returns a Runner resolving paths against opts.BaseURL
func NewRunner(opts Options) (*Runner, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{opts: opts, base: base, logger: opts.Logger}, nil
}

// Resolve joins a scenario path onto the base URL
func (r *Runner) Resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return strings.TrimRight(r.base.String(), "/") + "/" + strings.TrimLeft(path, "/")
	}
	return r.base.ResolveReference(ref).String()
}

// Run executes sc on a fresh page of b. It never returns an error: every
// failure, including a panicking backend, is sealed into the result.
func (r *Runner) Run(ctx context.Context, b browser.Browser, engine models.EngineKind, sc Scenario) (res models.ScenarioResult) {
	start := time.Now()
	res = models.ScenarioResult{
		Name:       sc.Name,
		Engine:     engine,
		Assertions: []models.AssertionRecord{},
	}
	log := r.logger.With(zap.String("scenario", sc.Name), zap.String("engine", string(engine)))
	r.emit(events.Event{Type: events.TypeScenarioStarted, Engine: engine, Scenario: sc.Name})

	defer func() {
		if rec := recover(); rec != nil {
			res.Passed = false
			res.Error = fmt.Sprintf("unhandled defect: %v", rec)
			log.Error("scenario panicked", zap.Any("panic", rec))
		}
		res.Status = models.ResultFailed
		if res.Passed {
			res.Status = models.ResultPassed
		}
		res.Duration = time.Since(start)
		res.DurationMs = res.Duration.Milliseconds()
		r.emit(events.Event{
			Type:     events.TypeScenarioSealed,
			Engine:   engine,
			Scenario: sc.Name,
			Passed:   res.Passed,
			Detail:   res.Error,
		})
	}()

	if r.opts.Profile.Timeouts.Test > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Profile.Timeouts.Test)
		defer cancel()
	}

	page, err := b.NewPage(ctx)
	if err != nil {
		res.Error = fmt.Sprintf("open page: %v", err)
		return res
	}
	defer page.Close()

	for i, step := range sc.Steps {
		if r.opts.Breakpoints {
			log.Info("breakpoint", zap.Int("step", i+1), zap.Stringer("action", step))
		}

		record, err := r.exec(ctx, page, step)
		if record != nil {
			res.Assertions = append(res.Assertions, *record)
		}
		if err != nil {
			res.Error = fmt.Sprintf("step %d %s: %v", i+1, step, err)
			log.Warn("step failed", zap.Int("step", i+1), zap.Error(err))
			r.emit(events.Event{Type: events.TypeStepFailed, Engine: engine, Scenario: sc.Name, Step: step.String(), Index: i, Detail: err.Error()})
			return res
		}
		r.emit(events.Event{Type: events.TypeStepPassed, Engine: engine, Scenario: sc.Name, Step: step.String(), Index: i, Passed: true})

		if r.opts.PauseAfterEach > 0 && !r.opts.Profile.Headless {
			if err := sleep(ctx, r.opts.PauseAfterEach); err != nil {
				res.Error = fmt.Sprintf("step %d %s: %v", i+1, step, err)
				return res
			}
		}
	}

	res.Passed = true
	log.Debug("scenario passed", zap.Int("assertions", len(res.Assertions)))
	return res
}

func (r *Runner) emit(e events.Event) {
	e.RunID = r.opts.RunID
	e.Time = time.Now()
	r.opts.Emitter.Emit(e)
}

// exec runs one step. Only waits, assertions and evaluations yield a record.
func (r *Runner) exec(ctx context.Context, page browser.Page, step Step) (*models.AssertionRecord, error) {
	timeouts := r.opts.Profile.Timeouts

	switch step.Kind {
	case StepNavigate:
		return nil, r.navigate(ctx, page, step.Path, timeouts.Navigation)

	case StepWaitForSelector:
		timeout := step.Timeout(timeouts.Assertion)
		record := &models.AssertionRecord{Description: fmt.Sprintf("selector %s is visible", step.Selector)}
		err := withTimeout(ctx, timeout, func(ctx context.Context) error {
			return page.WaitVisible(ctx, step.Selector)
		})
		if err != nil {
			err = timeoutOr(err, "waitForSelector", step.Selector, timeout)
			record.Detail = err.Error()
			return record, err
		}
		record.Passed = true
		return record, nil

	case StepAssertCount:
		return r.assertCount(ctx, page, step, step.Timeout(timeouts.Assertion))

	case StepAssertText:
		return r.assertText(ctx, page, step, step.Timeout(timeouts.Assertion))

	case StepClick:
		timeout := step.Timeout(timeouts.Assertion)
		err := withTimeout(ctx, timeout, func(ctx context.Context) error {
			return page.Click(ctx, step.Selector)
		})
		if err != nil {
			return nil, timeoutOr(err, "click", step.Selector, timeout)
		}
		return nil, nil

	case StepEvaluate:
		return r.evaluate(ctx, page, step, step.Timeout(timeouts.Assertion))

	case StepWaitMs:
		return nil, sleep(ctx, time.Duration(step.DurationMs)*time.Millisecond)
	}

	return nil, fmt.Errorf("unknown step kind %q", step.Kind)
}

func (r *Runner) navigate(ctx context.Context, page browser.Page, path string, timeout time.Duration) error {
	target := r.Resolve(path)
	var status int
	err := withTimeout(ctx, timeout, func(ctx context.Context) error {
		var err error
		status, err = page.Goto(ctx, target)
		return err
	})
	if err != nil {
		if browser.IsTimeout(err) {
			err = fmt.Errorf("no response within %v: %w", timeout, err)
		}
		return &browser.NavigationError{URL: target, Status: status, Err: err}
	}
	// status 0 means the document was served without a network response
	if status >= 400 {
		return &browser.NavigationError{URL: target, Status: status}
	}
	return nil
}

func (r *Runner) assertCount(ctx context.Context, page browser.Page, step Step, timeout time.Duration) (*models.AssertionRecord, error) {
	record := &models.AssertionRecord{Description: fmt.Sprintf("count of %s %s", step.Selector, step.Count)}

	var last int
	var read bool
	err := poll(ctx, timeout, func(ctx context.Context) error {
		n, err := page.Count(ctx, step.Selector)
		if err != nil {
			return err
		}
		last, read = n, true
		if !step.Count.Matches(n) {
			return retry.RetryableError(errMismatch)
		}
		return nil
	})
	record.Detail = fmt.Sprintf("found %d", last)
	if err != nil {
		if read && !step.Count.Matches(last) {
			err = &browser.AssertionFailure{
				Description: record.Description,
				Expected:    step.Count.String(),
				Actual:      strconv.Itoa(last),
			}
		} else {
			err = timeoutOr(err, "assertCount", step.Selector, timeout)
		}
		record.Detail = err.Error()
		return record, err
	}
	record.Passed = true
	return record, nil
}

func (r *Runner) assertText(ctx context.Context, page browser.Page, step Step, timeout time.Duration) (*models.AssertionRecord, error) {
	record := &models.AssertionRecord{Description: fmt.Sprintf("text of %s contains %q", step.Selector, step.Expected)}

	var last string
	var found bool
	err := poll(ctx, timeout, func(ctx context.Context) error {
		text, err := page.Text(ctx, step.Selector)
		if err != nil {
			return retry.RetryableError(err)
		}
		last, found = strings.TrimSpace(text), true
		if !strings.Contains(last, step.Expected) {
			return retry.RetryableError(errMismatch)
		}
		return nil
	})
	if err != nil {
		if found {
			err = &browser.AssertionFailure{
				Description: record.Description,
				Expected:    strconv.Quote(step.Expected),
				Actual:      strconv.Quote(last),
			}
		} else {
			err = timeoutOr(err, "assertText", step.Selector, timeout)
		}
		record.Detail = err.Error()
		return record, err
	}
	record.Passed = true
	record.Detail = strconv.Quote(last)
	return record, nil
}

func (r *Runner) evaluate(ctx context.Context, page browser.Page, step Step, timeout time.Duration) (*models.AssertionRecord, error) {
	record := &models.AssertionRecord{Description: fmt.Sprintf("evaluate %s", step.Expression)}
	if step.Expect != nil {
		record.Description = fmt.Sprintf("evaluate %s == %s", step.Expression, *step.Expect)
	}

	var value any
	err := withTimeout(ctx, timeout, func(ctx context.Context) error {
		var err error
		value, err = page.Evaluate(ctx, step.Expression)
		return err
	})
	if err != nil {
		err = timeoutOr(err, "evaluate", step.Expression, timeout)
		record.Detail = err.Error()
		return record, err
	}

	got := FormatValue(value)
	record.Detail = got
	if step.Expect != nil && got != *step.Expect {
		err := &browser.AssertionFailure{Description: record.Description, Expected: *step.Expect, Actual: got}
		record.Detail = err.Error()
		return record, err
	}
	record.Passed = true
	return record, nil
}

var errMismatch = errors.New("value mismatch")

// FormatValue renders an evaluated value the way it is compared
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "undefined"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func withTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// poll retries fn until it succeeds or timeout elapses. The last
// retryable error is returned on expiry.
func poll(ctx context.Context, timeout time.Duration, fn retry.RetryFunc) error {
	backoff := retry.WithMaxDuration(timeout, retry.NewConstant(pollInterval))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		return withTimeout(ctx, timeout, fn)
	})
}

// timeoutOr converts expired waits into a TimeoutError naming what was awaited
func timeoutOr(err error, step, selector string, timeout time.Duration) error {
	if browser.IsTimeout(err) {
		return &browser.TimeoutError{Step: step, Selector: selector, Timeout: timeout, Err: err}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
