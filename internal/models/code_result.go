package models

type TestResult struct {
	TestCase     string `json:"testCase"`
	Passed       bool   `json:"passed"`
	ActualOutput string `json:"actualOutput"`
	Explanation  string `json:"explanation"`
}

// CodeResult is the model's trace of a submission against a question's test
// cases.
type CodeResult struct {
	TestResults []TestResult `json:"testResults"`
	Summary     string       `json:"summary"`
	Score       float64      `json:"score"`
}
