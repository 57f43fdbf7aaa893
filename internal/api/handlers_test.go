package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadmax/siteqa/internal/auth"
	"github.com/nadmax/siteqa/internal/queue"
	"github.com/nadmax/siteqa/internal/store"
	"github.com/nadmax/siteqa/internal/task"
)

type apiFixture struct {
	api   *API
	store *store.MockStore
	queue *queue.Queue
	redis *miniredis.Miniredis
}

func setupAPI(t *testing.T) *apiFixture {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q, err := queue.New(mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	f := &apiFixture{
		store: store.NewMockStore(),
		queue: q,
		redis: mr,
	}
	f.api = New(Options{
		Store:    f.store,
		Queue:    q,
		Verifier: auth.NewStaticVerifier("token-a=user_a,token-b=user_b"),
		Log:      zerolog.Nop(),
	})
	f.api.validator = stubValidator(map[string][]net.IP{
		"example.com": {net.ParseIP("93.184.216.34")},
	})
	return f
}

func (f *apiFixture) request(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.api.Echo().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (bool, json.RawMessage, string) {
	t.Helper()
	var env struct {
		OK    bool            `json:"ok"`
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.OK, env.Data, env.Error
}

func TestHealth(t *testing.T) {
	f := setupAPI(t)

	rec := f.request(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAuthRequired(t *testing.T) {
	f := setupAPI(t)

	t.Run("missing token", func(t *testing.T) {
		rec := f.request(http.MethodGet, "/api/tasks", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		ok, _, msg := decodeEnvelope(t, rec)
		assert.False(t, ok)
		assert.Equal(t, "Unauthorized", msg)
	})

	t.Run("unknown token", func(t *testing.T) {
		rec := f.request(http.MethodGet, "/api/tasks", "bogus", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("whoami reports verified owner", func(t *testing.T) {
		rec := f.request(http.MethodGet, "/debug/whoami", "token-a", "")
		require.Equal(t, http.StatusOK, rec.Code)
		_, data, _ := decodeEnvelope(t, rec)
		assert.JSONEq(t, `{"owner_id":"user_a"}`, string(data))
	})
}

func TestCreateTask(t *testing.T) {
	t.Run("accepted submissions are stored and queued", func(t *testing.T) {
		f := setupAPI(t)
		ctx := context.Background()

		rec := f.request(http.MethodPost, "/api/tasks", "token-a",
			`{"url":"https://example.com","question":"What is this page about?"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		ok, data, _ := decodeEnvelope(t, rec)
		require.True(t, ok)
		var got task.Task
		require.NoError(t, json.Unmarshal(data, &got))
		assert.NotEmpty(t, got.ID)
		assert.Equal(t, "user_a", got.OwnerID)
		assert.Equal(t, task.StatusPending, got.Status)

		require.Len(t, f.store.CreateCalls, 1)
		assert.Equal(t, got.ID, f.store.CreateCalls[0])

		e, err := f.queue.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, got.ID, e.TaskID)
		assert.Equal(t, "https://example.com", e.URL)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		f := setupAPI(t)

		rec := f.request(http.MethodPost, "/api/tasks", "token-a", `{"url": nope`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		_, _, msg := decodeEnvelope(t, rec)
		assert.Equal(t, "Invalid JSON", msg)
	})

	t.Run("internal addresses are rejected", func(t *testing.T) {
		f := setupAPI(t)

		for _, url := range []string{"http://127.0.0.1/admin", "http://10.0.0.1/internal"} {
			rec := f.request(http.MethodPost, "/api/tasks", "token-a",
				`{"url":"`+url+`","question":"q"}`)
			assert.Equal(t, http.StatusBadRequest, rec.Code, url)
		}
		assert.Empty(t, f.store.CreateCalls, "rejected submissions never reach the store")
	})

	t.Run("question length boundary", func(t *testing.T) {
		f := setupAPI(t)

		exact := strings.Repeat("q", maxQuestionLength)
		rec := f.request(http.MethodPost, "/api/tasks", "token-a",
			`{"url":"https://example.com","question":"`+exact+`"}`)
		assert.Equal(t, http.StatusCreated, rec.Code)

		rec = f.request(http.MethodPost, "/api/tasks", "token-a",
			`{"url":"https://example.com","question":"`+exact+`q"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("question markup is escaped before storage", func(t *testing.T) {
		f := setupAPI(t)

		rec := f.request(http.MethodPost, "/api/tasks", "token-a",
			`{"url":"https://example.com","question":"is <b>this</b> bold?"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		require.Len(t, f.store.CreateCalls, 1)
		stored := f.store.Tasks[f.store.CreateCalls[0]]
		assert.NotContains(t, stored.Question, "<b>")
		assert.Contains(t, stored.Question, "&lt;b&gt;")
	})

	t.Run("enqueue failure marks the task failed", func(t *testing.T) {
		f := setupAPI(t)

		f.redis.Close()

		rec := f.request(http.MethodPost, "/api/tasks", "token-a",
			`{"url":"https://example.com","question":"q"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		require.Len(t, f.store.CreateCalls, 1)
		status, ok := f.store.TaskStatus(f.store.CreateCalls[0])
		require.True(t, ok)
		assert.Equal(t, task.StatusFailed, status)
	})
}

func TestListTasks(t *testing.T) {
	f := setupAPI(t)
	ctx := context.Background()

	mine := task.New("user_a", "https://example.com/a", "first?")
	theirs := task.New("user_b", "https://example.com/b", "second?")
	require.NoError(t, f.store.Create(ctx, mine))
	require.NoError(t, f.store.Create(ctx, theirs))

	rec := f.request(http.MethodGet, "/api/tasks", "token-a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, data, _ := decodeEnvelope(t, rec)
	var tasks []*task.Task
	require.NoError(t, json.Unmarshal(data, &tasks))
	require.Len(t, tasks, 1, "listing is scoped to the caller")
	assert.Equal(t, mine.ID, tasks[0].ID)
}

func TestDeleteTask(t *testing.T) {
	f := setupAPI(t)
	ctx := context.Background()

	tsk := task.New("user_a", "https://example.com", "q")
	require.NoError(t, f.store.Create(ctx, tsk))

	t.Run("not the owner", func(t *testing.T) {
		rec := f.request(http.MethodDelete, "/api/tasks/"+tsk.ID, "token-b", "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		_, _, msg := decodeEnvelope(t, rec)
		assert.Equal(t, "Forbidden - Not your task", msg)
	})

	t.Run("missing task", func(t *testing.T) {
		rec := f.request(http.MethodDelete, "/api/tasks/no-such-id", "token-a", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("owner deletes", func(t *testing.T) {
		rec := f.request(http.MethodDelete, "/api/tasks/"+tsk.ID, "token-a", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		_, err := f.store.Get(ctx, tsk.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestRetryTask(t *testing.T) {
	f := setupAPI(t)
	ctx := context.Background()

	tsk := task.New("user_a", "https://example.com", "q")
	failed := task.StatusFailed
	answerText := "stale answer"
	errText := "generation failed"
	tsk.Status = failed
	tsk.Answer = &answerText
	tsk.Error = &errText
	require.NoError(t, f.store.Create(ctx, tsk))

	t.Run("not the owner", func(t *testing.T) {
		rec := f.request(http.MethodPost, "/api/tasks/"+tsk.ID+"/retry", "token-b", "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("owner retries", func(t *testing.T) {
		rec := f.request(http.MethodPost, "/api/tasks/"+tsk.ID+"/retry", "token-a", "")
		require.Equal(t, http.StatusOK, rec.Code)

		got, err := f.store.Get(ctx, tsk.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusPending, got.Status)
		assert.Nil(t, got.Answer, "previous results are cleared")
		assert.Nil(t, got.Error)

		stats, err := f.queue.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Scheduled, "retry enqueues exactly one fresh entry")
	})

	t.Run("missing task", func(t *testing.T) {
		rec := f.request(http.MethodPost, "/api/tasks/no-such-id/retry", "token-a", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestQueueDebugEndpoints(t *testing.T) {
	f := setupAPI(t)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, queue.NewEntry("t1", "https://example.com", "q")))

	rec := f.request(http.MethodGet, "/api/queue/stats", "token-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, data, _ := decodeEnvelope(t, rec)
	var stats queue.Stats
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, int64(1), stats.Scheduled)

	rec = f.request(http.MethodGet, "/api/queue/recent", "token-a", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
