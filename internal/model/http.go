package model

import "time"

type RunSummary struct {
	// ID is the identifier of the run.
	ID string `json:"id"`
	// Name is the user provided label of the run.
	Name string `json:"name"`
	// Environment is additional information on where the tests were run.
	Environment string `json:"environment"`
	// Start is the time the first test result was recorded.
	Start time.Time `json:"start"`
	// End is the time the run was saved.
	End time.Time `json:"end"`
	// Result is "Passed" if every recorded test passed, otherwise "Failed".
	Result string `json:"result"`
	// Tests counts the recorded test results.
	Tests int `json:"tests"`
	// Failed counts the recorded test results that did not pass.
	Failed int `json:"failed"`
}
