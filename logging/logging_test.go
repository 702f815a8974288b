package logging_test

import (
	"testing"

	"go.viam.com/test"

	"go.apexline.dev/apexline/logging"
)

func TestObservedTestLogger(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	logger.Debugw("transcribing", "points", 100)
	logger.Infow("converged", "lapTime", 92.4)
	logger.Warnw("falling back")

	test.That(t, logs.Len(), test.ShouldEqual, 3)
	test.That(t, logs.FilterMessageSnippet("converged").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessageSnippet("falling back").Len(), test.ShouldEqual, 1)
}

func TestSublogger(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	sub := logger.Sublogger("nlopt")
	sub.Debugw("finished", "objective", 1.0)
	test.That(t, logs.Len(), test.ShouldEqual, 1)
	entry := logs.All()[0]
	test.That(t, entry.LoggerName, test.ShouldContainSubstring, "nlopt")
}
