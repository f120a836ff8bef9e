package api

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapphire-ai/sapphire/internal/continuity"
)

func TestHandleTasksCreateAndList(t *testing.T) {
	h, _, _, sched := newTestHandler(t)

	req := httptest.NewRequest("POST", "/tasks", bytes.NewBufferString(`{"name":"reminders","cron_expr":"* * * * *","enabled":true,"chance":100}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "reminders")

	assert.Len(t, sched.Tasks(), 1)
}

func TestHandleTasksRejectsInvalidCron(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	req := httptest.NewRequest("POST", "/tasks", bytes.NewBufferString(`{"name":"bad","cron_expr":"not a cron"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, 400, rec.Code)
}

func TestHandleTaskByIDUpdateAndDelete(t *testing.T) {
	h, _, _, sched := newTestHandler(t)
	sched.RegisterTask(&continuity.Task{ID: "t1", Name: "old", CronExpr: "* * * * *"})

	req := httptest.NewRequest("PUT", "/tasks/t1", bytes.NewBufferString(`{"name":"renamed","cron_expr":"* * * * *"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	task, ok := sched.GetTask("t1")
	require.True(t, ok)
	assert.Equal(t, "renamed", task.Name)

	req = httptest.NewRequest("DELETE", "/tasks/t1", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	_, ok = sched.GetTask("t1")
	assert.False(t, ok)
}

func TestHandleTaskRunDispatchesImmediately(t *testing.T) {
	h, _, _, sched := newTestHandler(t)
	sched.RegisterTask(&continuity.Task{ID: "t1", CronExpr: "5 9 * * *", Enabled: false})

	req := httptest.NewRequest("POST", "/tasks/t1/run", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}

func TestHandleTaskRunReturnsNotFound(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	req := httptest.NewRequest("POST", "/tasks/missing/run", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, 404, rec.Code)
}

func TestHandleStatusReportsSchedulerState(t *testing.T) {
	h, _, _, sched := newTestHandler(t)
	sched.RegisterTask(&continuity.Task{ID: "t1", CronExpr: "* * * * *"})

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"task_count":1`)
	assert.Contains(t, rec.Body.String(), `"running":false`)
}

func TestHandleActivityReturnsRing(t *testing.T) {
	h, _, _, sched := newTestHandler(t)
	sched.RegisterTask(&continuity.Task{ID: "t1", CronExpr: "* * * * *", Chance: 100})
	require.NoError(t, sched.RunTaskNow(t.Context(), "t1"))

	req := httptest.NewRequest("GET", "/activity", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "t1")
}

func TestHandleTimelineProjectsOccurrences(t *testing.T) {
	h, _, _, sched := newTestHandler(t)
	sched.RegisterTask(&continuity.Task{ID: "hourly", CronExpr: "0 * * * *", Enabled: true})

	req := httptest.NewRequest("GET", "/timeline?window_hours=3&limit=2", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "hourly")
}
