package realtime

import (
	"math"
	"testing"

	"github.com/RyanBlaney/pulso-ppg/heart"
)

func TestRegistryLifecycle(t *testing.T) {
	id, err := Create(50.0, heart.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if id < 1 {
		t.Fatalf("handle = %d, want >= 1", id)
	}
	if err := Push(id, []float64{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := SetWindowSeconds(id, 30); err != nil {
		t.Fatal(err)
	}
	if err := SetUpdateIntervalSeconds(id, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := Destroy(id); err != nil {
		t.Fatal(err)
	}
	// the id is invalid after destroy
	if err := Destroy(id); heart.ErrorCode(err) != heart.CodeInvalidHandleFree {
		t.Errorf("double destroy code = %s, want %s", heart.ErrorCode(err), heart.CodeInvalidHandleFree)
	}
}

func TestRegistryInvalidHandleCodes(t *testing.T) {
	const bogus = 999999
	if err := Push(bogus, []float64{1}); heart.ErrorCode(err) != heart.CodeInvalidHandlePush {
		t.Errorf("push code = %s, want %s", heart.ErrorCode(err), heart.CodeInvalidHandlePush)
	}
	if _, err := Poll(bogus); heart.ErrorCode(err) != heart.CodeInvalidHandlePoll {
		t.Errorf("poll code = %s, want %s", heart.ErrorCode(err), heart.CodeInvalidHandlePoll)
	}
	if err := Destroy(bogus); heart.ErrorCode(err) != heart.CodeInvalidHandleFree {
		t.Errorf("destroy code = %s, want %s", heart.ErrorCode(err), heart.CodeInvalidHandleFree)
	}
}

func TestRegistryBufferValidation(t *testing.T) {
	id, err := Create(50.0, heart.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer Destroy(id)

	if err := Push(id, nil); heart.ErrorCode(err) != heart.CodeInvalidBuffer {
		t.Errorf("empty push code = %s, want %s", heart.ErrorCode(err), heart.CodeInvalidBuffer)
	}
	if err := PushWithTimestamps(id, []float64{1, 2}, []float64{0.0}); heart.ErrorCode(err) != heart.CodeInvalidBuffer {
		t.Errorf("mismatched push code = %s, want %s", heart.ErrorCode(err), heart.CodeInvalidBuffer)
	}
}

func TestRegistryCreateValidates(t *testing.T) {
	opt := heart.DefaultOptions()
	opt.Peak.BPMMin = 10 // below the allowed floor
	if _, err := Create(50.0, opt); heart.ErrorCode(err) != heart.CodeInvalidBpmRange {
		t.Errorf("create code = %s, want %s", heart.ErrorCode(err), heart.CodeInvalidBpmRange)
	}
}

func TestRegistrySetWindowValidation(t *testing.T) {
	id, err := Create(50.0, heart.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer Destroy(id)
	if err := SetWindowSeconds(id, math.NaN()); heart.ErrorCode(err) != heart.CodeInvalidWindow {
		t.Errorf("setWindow code = %s, want %s", heart.ErrorCode(err), heart.CodeInvalidWindow)
	}
}
