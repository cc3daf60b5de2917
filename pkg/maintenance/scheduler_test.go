package maintenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateAtSchedule(t *testing.T) {
	t.Run("valid ISO 8601 timestamp", func(t *testing.T) {
		schedule := Schedule{
			Kind: ScheduleKindAt,
			At:   "2026-12-25T14:00:00Z",
		}

		nextRun, err := CalculateNextRun(schedule)
		require.NoError(t, err)

		expected := time.Date(2026, 12, 25, 14, 0, 0, 0, time.UTC).UnixMilli()
		assert.Equal(t, expected, nextRun)
	})

	t.Run("invalid timestamp", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindAt, At: "invalid"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid timestamp")
	})

	t.Run("missing at field", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindAt})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "requires 'at' field")
	})
}

func TestCalculateEverySchedule(t *testing.T) {
	t.Run("without anchor", func(t *testing.T) {
		before := time.Now().UnixMilli()
		nextRun, err := CalculateNextRun(Every(time.Minute))
		require.NoError(t, err)
		after := time.Now().UnixMilli()

		assert.GreaterOrEqual(t, nextRun, before+60000)
		assert.LessOrEqual(t, nextRun, after+60000)
	})

	t.Run("with anchor in past", func(t *testing.T) {
		now := time.Now().UnixMilli()
		anchor := now - 150000

		schedule := Schedule{
			Kind:     ScheduleKindEvery,
			EveryMs:  60000,
			AnchorMs: &anchor,
		}

		nextRun, err := CalculateNextRun(schedule)
		require.NoError(t, err)

		// Aligns to the next interval boundary after now
		assert.Equal(t, anchor+180000, nextRun)
	})

	t.Run("with anchor in future", func(t *testing.T) {
		anchor := time.Now().UnixMilli() + 60000

		schedule := Schedule{
			Kind:     ScheduleKindEvery,
			EveryMs:  60000,
			AnchorMs: &anchor,
		}

		nextRun, err := CalculateNextRun(schedule)
		require.NoError(t, err)
		assert.Equal(t, anchor, nextRun)
	})

	t.Run("non-positive interval", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindEvery, EveryMs: -1000})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "positive 'everyMs'")

		_, err = CalculateNextRun(Schedule{Kind: ScheduleKindEvery})
		assert.Error(t, err)
	})
}

func TestCalculateCronSchedule(t *testing.T) {
	t.Run("hourly expression", func(t *testing.T) {
		nextRun, err := CalculateNextRun(Cron("0 * * * *"))
		require.NoError(t, err)

		assert.Greater(t, nextRun, time.Now().UnixMilli())
		assert.Equal(t, 0, time.UnixMilli(nextRun).Minute())
	})

	t.Run("with timezone", func(t *testing.T) {
		schedule := Schedule{
			Kind: ScheduleKindCron,
			Expr: "0 9 * * *",
			TZ:   "America/New_York",
		}

		nextRun, err := CalculateNextRun(schedule)
		require.NoError(t, err)

		loc, _ := time.LoadLocation("America/New_York")
		assert.Equal(t, 9, time.UnixMilli(nextRun).In(loc).Hour())
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := CalculateNextRun(Cron("invalid"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cron expression")
	})

	t.Run("invalid timezone", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindCron, Expr: "0 9 * * *", TZ: "Invalid/Timezone"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid timezone")
	})

	t.Run("missing expr field", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindCron})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "requires 'expr' field")
	})
}

func TestCalculateNextRunUnknownKind(t *testing.T) {
	_, err := CalculateNextRun(Schedule{Kind: "unknown"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown schedule kind")
}
