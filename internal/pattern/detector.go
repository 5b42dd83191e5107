package pattern

import (
	"fmt"
	"strconv"
)

// Prediction is a single detector output: a key the detector expects
// to be requested soon and how sure it is.
type Prediction struct {
	Key        string
	Confidence float64
}

// SequenceDetector inspects an ordered window of keys from one bucket
// and proposes up to depth follow-up keys. Implementations must be
// stateless; all state lives in the tracker.
type SequenceDetector interface {
	Name() string
	Detect(window []string, depth int) []Prediction
}

// confidenceStepPenalty lowers confidence for each prediction step
// past the first, so deeper speculative fetches rank below near ones.
const confidenceStepPenalty = 0.05

// NumericSuffixDetector detects arithmetic runs in the trailing digit
// group of object keys, the dominant layout for episode recordings
// (pose/0000.json, pose/0001.json, ...). Zero padding is preserved in
// predicted keys.
type NumericSuffixDetector struct {
	// MinRun is the minimum number of consecutive structure-matching
	// accesses before any prediction is made.
	MinRun int

	// MaxConfidence caps the confidence of the first prediction.
	MaxConfidence float64
}

var _ SequenceDetector = (*NumericSuffixDetector)(nil)

func (d *NumericSuffixDetector) Name() string { return "numeric-suffix" }

// Detect walks the window backwards from the most recent access,
// extending the run while prefix, suffix, and stride all match. A run
// of length L yields confidence 1 - 1/L for the first predicted key,
// so longer runs are trusted more, saturating at MaxConfidence.
func (d *NumericSuffixDetector) Detect(window []string, depth int) []Prediction {
	n := len(window)
	if n == 0 || depth <= 0 {
		return nil
	}

	last, ok := parseNumericKey(window[n-1])
	if !ok {
		return nil
	}

	runLen := 1
	var stride int64
	cur := last
	for i := n - 2; i >= 0; i-- {
		p, ok := parseNumericKey(window[i])
		if !ok || p.prefix != last.prefix || p.suffix != last.suffix {
			break
		}
		diff := cur.value - p.value
		if runLen == 1 {
			if diff == 0 {
				break
			}
			stride = diff
		} else if diff != stride {
			break
		}
		runLen++
		cur = p
	}

	if runLen < d.MinRun || stride == 0 {
		return nil
	}

	base := 1.0 - 1.0/float64(runLen)
	if base > d.MaxConfidence {
		base = d.MaxConfidence
	}

	preds := make([]Prediction, 0, depth)
	for step := 1; step <= depth; step++ {
		next := last.value + stride*int64(step)
		if next < 0 {
			break
		}
		conf := base - confidenceStepPenalty*float64(step-1)
		if conf <= 0 {
			break
		}
		preds = append(preds, Prediction{
			Key:        formatNumericKey(last, next),
			Confidence: conf,
		})
	}
	return preds
}

// parsedKey is a key decomposed around its trailing digit group.
type parsedKey struct {
	prefix string
	suffix string
	value  int64
	width  int
}

// parseNumericKey splits a key around its last run of ASCII digits.
// Keys without digits, or with a digit group too long for int64, do
// not participate in detection.
func parseNumericKey(key string) (parsedKey, bool) {
	end := -1
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] >= '0' && key[i] <= '9' {
			end = i + 1
			break
		}
	}
	if end == -1 {
		return parsedKey{}, false
	}

	start := end - 1
	for start > 0 && key[start-1] >= '0' && key[start-1] <= '9' {
		start--
	}
	if end-start > 18 {
		return parsedKey{}, false
	}

	value, err := strconv.ParseInt(key[start:end], 10, 64)
	if err != nil {
		return parsedKey{}, false
	}

	return parsedKey{
		prefix: key[:start],
		suffix: key[end:],
		value:  value,
		width:  end - start,
	}, true
}

func formatNumericKey(p parsedKey, value int64) string {
	return fmt.Sprintf("%s%0*d%s", p.prefix, p.width, value, p.suffix)
}
