package tryon

import "testing"

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allSteps := []Step{StepPhoto, StepPreview, StepProcessing, StepOutcome, StepError}

	allowed := map[Step]map[Step]bool{
		StepPhoto:      {StepPreview: true},
		StepPreview:    {StepProcessing: true, StepPhoto: true},
		StepProcessing: {StepOutcome: true, StepError: true},
		StepOutcome:    {StepPhoto: true},
		StepError:      {StepPhoto: true},
	}

	for _, from := range allSteps {
		for _, to := range allSteps {
			want := allowed[from][to]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestProcessingOnlyReachesResultOrError(t *testing.T) {
	t.Parallel()

	for _, to := range []Step{StepPhoto, StepPreview, StepProcessing, "fetching", ""} {
		if CanTransition(StepProcessing, to) {
			t.Errorf("processing must not reach %q", to)
		}
	}
	if !CanTransition(StepProcessing, StepOutcome) || !CanTransition(StepProcessing, StepError) {
		t.Error("processing must reach result and error")
	}
}

func TestResultVocabulary(t *testing.T) {
	t.Parallel()

	// The FSM state and the trail entry share the word "result" on the wire
	// but are distinct identifiers in the package.
	if StepOutcome != Step("result") {
		t.Errorf("result state serializes as %q", StepOutcome)
	}
	entry := StepResult{StepNumber: 1, Garment: Garment{Name: "Shirt"}, ImageURL: "https://cdn/1.jpg"}
	if entry.StepNumber != 1 {
		t.Error("trail entry not constructible")
	}
}

func TestUnknownStepTransitions(t *testing.T) {
	t.Parallel()

	if CanTransition("fetching", StepPreview) {
		t.Error("transient substates must not appear in the transition graph")
	}
	if CanTransition(StepPhoto, "fetching") {
		t.Error("transitions into unknown steps must be rejected")
	}
}
