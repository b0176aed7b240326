package replay

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.opcore.dev/opcore/input"
	"go.opcore.dev/opcore/logging"
)

const recording = `{"buttons": ["0:ButtonSouth"], "axes": {"0:AbsoluteY": -0.4}}

{"repeat": 1}
{"buttons": ["1:Button4"]}
`

func TestReplay(t *testing.T) {
	logger := logging.NewTestLogger(t)
	src, err := Read(strings.NewReader(recording), false, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, src.Len(), test.ShouldEqual, 4)

	ctx := context.Background()
	f, err := src.Read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Button(input.Control{Code: input.ButtonSouth}), test.ShouldBeTrue)
	test.That(t, f.Axis(input.Control{Code: input.AbsoluteY}), test.ShouldEqual, -0.4)

	for i := 0; i < 2; i++ {
		f, err = src.Read(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, f.Buttons, test.ShouldBeEmpty)
	}
	f, err = src.Read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Button(input.Control{Device: 1, Code: input.Button(4)}), test.ShouldBeTrue)

	_, err = src.Read(ctx)
	test.That(t, err, test.ShouldEqual, io.EOF)
}

func TestReplayLoop(t *testing.T) {
	logger := logging.NewTestLogger(t)
	path := filepath.Join(t.TempDir(), "frames.jsonl")
	test.That(t, os.WriteFile(path, []byte(`{"buttons": ["ButtonEast"]}`+"\n"), 0o600), test.ShouldBeNil)

	src, err := Open(path, true, logger)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		f, err := src.Read(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, f.Button(input.Control{Code: input.ButtonEast}), test.ShouldBeTrue)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Read(ctx)
	test.That(t, err, test.ShouldEqual, context.Canceled)
}

func TestReplayErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := Read(strings.NewReader("{\"buttons\": [\"0:Nope\"]}\n"), false, logger)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 1")
	_, err = Read(strings.NewReader("{\n"), false, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Open(filepath.Join(t.TempDir(), "missing.jsonl"), false, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestExampleRecording(t *testing.T) {
	src, err := Open("../../examples/tables/practice.jsonl", false, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, src.Len(), test.ShouldEqual, 117)

	f, err := src.Read(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Axis(input.Control{Code: input.AbsoluteY}), test.ShouldEqual, -0.6)
}
