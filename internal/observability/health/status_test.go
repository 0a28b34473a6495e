package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietMonitor(timeout time.Duration) *HealthMonitor {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewHealthMonitor(timeout, logger)
}

func ok(context.Context) error { return nil }

func TestCheckHealthy(t *testing.T) {
	hm := quietMonitor(time.Second)
	hm.RegisterCheck("a", true, ok)
	hm.RegisterCheck("b", false, ok)

	status := hm.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.OverallStatus)
	assert.Len(t, status.CheckResults, 2)
	assert.Empty(t, status.CriticalIssues)
}

func TestCheckNoChecks(t *testing.T) {
	status := quietMonitor(0).Check(context.Background())
	assert.Equal(t, StatusHealthy, status.OverallStatus)
	assert.Empty(t, status.CheckResults)
}

func TestCheckDegradedAndUnhealthy(t *testing.T) {
	hm := quietMonitor(time.Second)
	hm.RegisterCheck("optional", false, func(context.Context) error { return errors.New("missing") })
	hm.RegisterCheck("core", true, ok)

	status := hm.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.OverallStatus)
	assert.Equal(t, StatusUnhealthy, status.CheckResults["optional"].Status)
	assert.Equal(t, "missing", status.CheckResults["optional"].Message)

	hm.RegisterCheck("core", true, func(context.Context) error { return errors.New("down") })
	status = hm.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.OverallStatus)
	assert.Equal(t, []string{"core"}, status.CriticalIssues)
}

func TestCheckTimeout(t *testing.T) {
	hm := quietMonitor(20 * time.Millisecond)
	hm.RegisterCheck("slow", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := hm.Check(context.Background())
	require.Contains(t, status.CheckResults, "slow")
	assert.Equal(t, StatusUnhealthy, status.OverallStatus)
	assert.Contains(t, status.CheckResults["slow"].Message, "deadline")
}
