package health

import "testing"

func TestNewProviderNotDegraded(t *testing.T) {
	tr := New()
	if tr.IsDegraded("anthropic") {
		t.Fatal("fresh tracker must not report degraded")
	}
	if tr.ErrorRate("anthropic") != 0 {
		t.Fatalf("expected zero error rate, got %v", tr.ErrorRate("anthropic"))
	}
}

func TestAllSuccessesNotDegraded(t *testing.T) {
	tr := New()
	for i := 0; i < 10; i++ {
		tr.RecordSuccess("anthropic")
	}
	if tr.IsDegraded("anthropic") {
		t.Fatal("all-success window must not be degraded")
	}
}

func TestAllFailuresDegraded(t *testing.T) {
	tr := New()
	for i := 0; i < 10; i++ {
		tr.RecordFailure("anthropic")
	}
	if !tr.IsDegraded("anthropic") {
		t.Fatal("all-failure window must be degraded")
	}
	if tr.ErrorRate("anthropic") != 1.0 {
		t.Fatalf("expected error rate 1.0, got %v", tr.ErrorRate("anthropic"))
	}
}

func TestMixedBelowThresholdNotDegraded(t *testing.T) {
	tr := WithConfig(10, 0.5)
	for i := 0; i < 4; i++ {
		tr.RecordFailure("openai")
	}
	for i := 0; i < 6; i++ {
		tr.RecordSuccess("openai")
	}
	if tr.IsDegraded("openai") {
		t.Fatal("40% error rate must not exceed 50% threshold")
	}
}

func TestMixedAboveThresholdDegraded(t *testing.T) {
	tr := WithConfig(10, 0.5)
	for i := 0; i < 6; i++ {
		tr.RecordFailure("google")
	}
	for i := 0; i < 4; i++ {
		tr.RecordSuccess("google")
	}
	if !tr.IsDegraded("google") {
		t.Fatal("60% error rate must exceed 50% threshold")
	}
}

func TestRollingWindowRecovers(t *testing.T) {
	tr := WithConfig(4, 0.5)
	for i := 0; i < 4; i++ {
		tr.RecordFailure("anthropic")
	}
	if !tr.IsDegraded("anthropic") {
		t.Fatal("expected degraded after 4 failures in a window of 4")
	}
	for i := 0; i < 4; i++ {
		tr.RecordSuccess("anthropic")
	}
	if tr.IsDegraded("anthropic") {
		t.Fatal("expected recovery once failures roll out of the window")
	}
}

func TestSingleFailureNotDegraded(t *testing.T) {
	tr := New()
	tr.RecordFailure("anthropic")
	if tr.IsDegraded("anthropic") {
		t.Fatal("a single sample must never be classified as degraded")
	}
}

func TestIndependentProviders(t *testing.T) {
	tr := WithConfig(4, 0.5)
	for i := 0; i < 4; i++ {
		tr.RecordFailure("anthropic")
	}
	for i := 0; i < 4; i++ {
		tr.RecordSuccess("openai")
	}
	if !tr.IsDegraded("anthropic") {
		t.Fatal("anthropic should be degraded")
	}
	if tr.IsDegraded("openai") {
		t.Fatal("openai should not be degraded")
	}
}

func TestErrorRateAccuracy(t *testing.T) {
	tr := WithConfig(4, 0.5)
	tr.RecordSuccess("p")
	tr.RecordFailure("p")
	tr.RecordSuccess("p")
	tr.RecordFailure("p")
	if got := tr.ErrorRate("p"); got != 0.5 {
		t.Fatalf("expected error rate 0.5, got %v", got)
	}
}
