package services

import (
	"testing"

	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.WarnLevel)
	goleak.VerifyTestMain(m,
		// keep-alive readers of the httptest clients
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}
