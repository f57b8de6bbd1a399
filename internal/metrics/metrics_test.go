package metrics

import "testing"

func TestIncExecutionAndSnapshot(t *testing.T) {
	before, _ := ExecutionSnapshot()

	IncExecution("COMPLETED")
	IncExecution("COMPLETED")
	IncExecution("FAILED")
	IncExecution("")

	total, by := ExecutionSnapshot()
	if total != before+4 {
		t.Fatalf("expected total %d, got %d", before+4, total)
	}
	if by["COMPLETED"] < 2 || by["FAILED"] < 1 || by["unknown"] < 1 {
		t.Fatalf("unexpected counters: %v", by)
	}
}
