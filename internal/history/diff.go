package history

// Drift is one input whose verdict differs between two runs. Before or
// After is empty when the input was not recorded in that run.
type Drift struct {
	Stage  string `json:"stage"`
	Folder string `json:"folder"`
	Input  string `json:"input"`
	Before string `json:"before"`
	After  string `json:"after"`
	// Output is set when the status matches but a stdout digest or exit
	// code changed.
	Output bool `json:"output_changed,omitempty"`
}

type driftKey struct {
	stage, folder, input string
}

// Diff compares two verdict sequences by (stage, folder, input). Drifts are
// ordered by first appearance in before, then by appearance in after.
func Diff(before, after []Record) []Drift {
	index := func(rs []Record) map[driftKey]Record {
		m := make(map[driftKey]Record, len(rs))
		for _, r := range rs {
			m[driftKey{r.Stage, r.Folder, r.Input}] = r
		}
		return m
	}
	beforeBy, afterBy := index(before), index(after)

	drifts := []Drift{}
	for _, b := range before {
		k := driftKey{b.Stage, b.Folder, b.Input}
		a, ok := afterBy[k]
		switch {
		case !ok:
			drifts = append(drifts, Drift{Stage: b.Stage, Folder: b.Folder, Input: b.Input, Before: b.Status})
		case a.Status != b.Status:
			drifts = append(drifts, Drift{Stage: b.Stage, Folder: b.Folder, Input: b.Input, Before: b.Status, After: a.Status})
		case !sameOutput(a, b):
			drifts = append(drifts, Drift{Stage: b.Stage, Folder: b.Folder, Input: b.Input, Before: b.Status, After: a.Status, Output: true})
		}
	}
	for _, a := range after {
		if _, ok := beforeBy[driftKey{a.Stage, a.Folder, a.Input}]; !ok {
			drifts = append(drifts, Drift{Stage: a.Stage, Folder: a.Folder, Input: a.Input, After: a.Status})
		}
	}
	return drifts
}

func sameOutput(a, b Record) bool {
	return a.CandidateExit == b.CandidateExit &&
		a.ReferenceExit == b.ReferenceExit &&
		a.CandidateStdout == b.CandidateStdout &&
		a.ReferenceStdout == b.ReferenceStdout
}
