package core

import (
	"context"
	"sync"
)

// Runner drives a Validator over the rows of one dataset.
//
// With one worker (the default) rows are validated strictly in sequence with
// a single lookup in flight. More workers fan lookups out over a bounded
// pool; results are still returned in row order and progress still only
// moves forward.
type Runner struct {
	validator *Validator
	workers   int
}

// NewRunner creates a Runner. workers <= 1 means sequential.
func NewRunner(v *Validator, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{validator: v, workers: workers}
}

type runJob struct {
	email string
	name  string
}

// Run validates the mapped email of every row. Rows with an empty email are
// skipped: they are not validated and do not count toward progress.
// onProgress (optional) is called after each validation with a percentage
// of the non-skipped rows; it reaches exactly 100 after the last one.
//
// Run returns ctx.Err() if the context ends before Run returns, even when
// every row got a result.
func (r *Runner) Run(ctx context.Context, rows []Row, mapping ColumnMapping, onProgress ProgressCallback) ([]ValidationResult, error) {
	if mapping.EmailField == "" {
		return nil, ErrEmailFieldRequired
	}

	jobs := make([]runJob, 0, len(rows))
	for _, row := range rows {
		email := mapping.emailOf(row)
		if email == "" {
			continue
		}
		jobs = append(jobs, runJob{email: email, name: mapping.nameOf(row)})
	}

	total := len(jobs)
	report := func(done int) {
		if onProgress != nil {
			onProgress(done, total, Percent(done, total))
		}
	}

	results := make([]ValidationResult, total)
	if total == 0 {
		report(0)
		return results, nil
	}

	if r.workers == 1 {
		for i, job := range jobs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = r.classify(ctx, job)
			report(i + 1)
		}
		// A lookup cut short by cancellation reads as a failed verification.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return results, nil
	}

	var (
		mu   sync.Mutex
		done int
		wg   sync.WaitGroup
	)
	next := make(chan int)

	for w := 0; w < min(r.workers, total); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				results[i] = r.classify(ctx, jobs[i])
				mu.Lock()
				done++
				report(done)
				mu.Unlock()
			}
		}()
	}

feed:
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		select {
		case next <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(next)
	wg.Wait()

	// In-flight lookups still finish after a cancellation, so done can
	// reach total with results that are not real verdicts.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) classify(ctx context.Context, job runJob) ValidationResult {
	res := r.validator.Validate(ctx, job.email)
	res.Name = job.name
	return res
}

// Percent returns done/total as a percentage. An empty run is complete.
func Percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}
