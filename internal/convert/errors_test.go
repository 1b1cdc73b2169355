package convert

import (
	"errors"
	"io/fs"
	"testing"
)

func TestErrorMatchesSentinelAndCause(t *testing.T) {
	err := LoadError("model.etm", fs.ErrNotExist, "open source artifact")
	if !errors.Is(err, ErrLoad) {
		t.Fatalf("expected ErrLoad match")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected cause to stay reachable")
	}
	if errors.Is(err, ErrCapture) {
		t.Fatalf("load error must not match ErrCapture")
	}
	if got := err.Error(); got != "LoadError model.etm: open source artifact: file does not exist" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestErrorFormatsReason(t *testing.T) {
	err := LoweringError(nil, "unsupported operators: %v", []string{"aten::cumsum"})
	if err.Reason != "unsupported operators: [aten::cumsum]" {
		t.Fatalf("unexpected reason: %q", err.Reason)
	}
	literal := CaptureError(nil, "100% dynamic")
	if literal.Reason != "100% dynamic" {
		t.Fatalf("reason without args must be kept verbatim: %q", literal.Reason)
	}
}

func TestWithStageAnnotatesWithoutMutating(t *testing.T) {
	orig := CaptureError(nil, "data-dependent branch")
	annotated := WithStage(orig, "capture", KindCapture)
	if orig.Stage != "" {
		t.Fatalf("original error mutated")
	}
	var ce *Error
	if !errors.As(annotated, &ce) || ce.Stage != "capture" || ce.Kind != KindCapture {
		t.Fatalf("unexpected annotated error: %#v", annotated)
	}
	if got := annotated.Error(); got != "CaptureError [capture]: data-dependent branch" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestWithStageWrapsForeignErrors(t *testing.T) {
	cause := errors.New("boom")
	err := WithStage(cause, "write", KindWrite)
	if !errors.Is(err, ErrWrite) || !errors.Is(err, cause) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
	if k, ok := KindOf(err); !ok || k != KindWrite {
		t.Fatalf("unexpected kind: %v %v", k, ok)
	}
	if WithStage(nil, "write", KindWrite) != nil {
		t.Fatalf("nil must stay nil")
	}
	if _, ok := KindOf(cause); ok {
		t.Fatalf("plain errors carry no kind")
	}
}
