package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/lhuarcayat/BedrockAgent/pkg/bedrock"
	"github.com/lhuarcayat/BedrockAgent/pkg/retry"
)

// CallModel runs one model invocation under the runtime's retry policy
// and records the outcome as an attempt. The attempt is returned in
// both cases; on failure its ErrorKind carries the routing taxonomy.
func (rt *Runtime) CallModel(ctx context.Context, stage Stage, req bedrock.Request) (bedrock.Result, Attempt, error) {
	start := time.Now()

	calls := 0
	result, err := retry.Invoke(ctx, rt.Retry, func(ctx context.Context) (bedrock.Result, error) {
		calls++
		return rt.Model.Invoke(ctx, req)
	})

	attempt := Attempt{
		Stage:      stage,
		ModelID:    req.ModelID,
		Attempts:   calls,
		Timestamp:  start.UTC(),
		DurationMS: time.Since(start).Milliseconds(),
	}

	if err != nil {
		attempt.Status = StatusModelInvoked
		attempt.ErrorKind = retry.KindOf(err)
		attempt.ErrorMessage = truncateError(err)
		return bedrock.Result{}, attempt, err
	}

	attempt.Status = StatusAccepted
	return result, attempt, nil
}

// kindPriority orders failure kinds by how much they tell the review
// team: a content rejection explains more than a parse failure, which
// explains more than infrastructure noise.
var kindPriority = map[retry.Kind]int{
	retry.KindContentRejected: 4,
	retry.KindMalformed:       3,
	retry.KindSchemaViolation: 2,
	retry.KindTransient:       1,
	retry.KindThrottled:       0,
}

// WorstKind returns the most informative failure kind in the history.
func WorstKind(attempts []Attempt) retry.Kind {
	var worst retry.Kind
	best := -1
	for _, attempt := range attempts {
		if attempt.ErrorKind == "" {
			continue
		}
		if p := kindPriority[attempt.ErrorKind]; p > best {
			best = p
			worst = attempt.ErrorKind
		}
	}
	return worst
}

// WorstMessage returns the error message paired with WorstKind.
func WorstMessage(attempts []Attempt) string {
	kind := WorstKind(attempts)
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].ErrorKind == kind && attempts[i].ErrorMessage != "" {
			return attempts[i].ErrorMessage
		}
	}
	return ""
}

func truncateError(err error) string {
	const limit = 512

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) && exhausted.Err != nil {
		err = exhausted.Err
	}

	msg := err.Error()
	if len(msg) > limit {
		msg = msg[:limit]
	}
	return msg
}
