package activity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/hbomb79/castid/internal/activity"
	"github.com/hbomb79/castid/internal/cast"
	"github.com/hbomb79/castid/internal/event"
	"github.com/hbomb79/castid/internal/http/websocket"
	"github.com/hbomb79/castid/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type recordingBroadcaster struct {
	sync.Mutex
	messages []*websocket.SocketMessage
}

func (b *recordingBroadcaster) Send(message *websocket.SocketMessage) {
	b.Lock()
	defer b.Unlock()
	b.messages = append(b.messages, message)
}

func (b *recordingBroadcaster) titles() []string {
	b.Lock()
	defer b.Unlock()

	titles := make([]string, len(b.messages))
	for i, m := range b.messages {
		titles[i] = m.Title
	}
	return titles
}

func runService(t *testing.T, service *activity.ActivityService) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func Test_Activity_BroadcastsRunEvents(t *testing.T) {
	bus := event.New()
	broadcaster := &recordingBroadcaster{}
	service := activity.New(broadcaster, bus, activity.Config{ReplaySize: 4})
	runService(t, service)

	// The service registers its handler channel when Run starts
	runID := uuid.New()
	require.EventuallyWithT(t, func(c *assert.CollectT) {
		bus.Dispatch(event.RunQueuedEvent, event.ProgressPayload{RunID: runID, Message: "queued"})
		assert.NotEmpty(c, broadcaster.titles())
	}, time.Second, 20*time.Millisecond)

	members := []cast.Member{{Name: "Jane Doe"}}
	bus.Dispatch(event.RunResultEvent, event.ResultPayload{RunID: runID, Members: members})
	bus.Dispatch(event.RunFailedEvent, event.FailurePayload{RunID: runID, Kind: "extraction", Error: "boom"})

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		titles := broadcaster.titles()
		if assert.GreaterOrEqual(c, len(titles), 3) {
			assert.Equal(c, []string{activity.TitleCastResult, activity.TitleRunFailure}, titles[len(titles)-2:])
		}
	}, time.Second, 10*time.Millisecond)

	broadcaster.Lock()
	last := broadcaster.messages[len(broadcaster.messages)-1]
	broadcaster.Unlock()
	assert.Equal(t, websocket.Update, last.Type)
	assert.Nil(t, last.Target, "activity must be broadcast to all clients")
	assert.Equal(t, runID, last.Body["runId"])
	assert.Equal(t, "extraction", last.Body["kind"])
	assert.Equal(t, "boom", last.Body["error"])

	runs := service.ConnectionPayload()["runs"].([]activity.RunState)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
	assert.Equal(t, "queued", runs[0].LastMessage)
	assert.Equal(t, members, runs[0].Members)
	require.NotNil(t, runs[0].Failure)
	assert.Equal(t, "extraction", runs[0].Failure.Kind)
}

func Test_Activity_ReplayBufferEvictsLeastRecentlyUpdated(t *testing.T) {
	bus := event.New()
	service := activity.New(&recordingBroadcaster{}, bus, activity.Config{ReplaySize: 2})
	runService(t, service)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	require.Eventually(t, func() bool {
		bus.Dispatch(event.RunProgressEvent, event.ProgressPayload{RunID: ids[0], Message: "first"})
		return len(service.ConnectionPayload()["runs"].([]activity.RunState)) == 1
	}, time.Second, 20*time.Millisecond)

	bus.Dispatch(event.RunProgressEvent, event.ProgressPayload{RunID: ids[1], Message: "second"})
	bus.Dispatch(event.RunProgressEvent, event.ProgressPayload{RunID: ids[0], Message: "first again"})
	bus.Dispatch(event.RunProgressEvent, event.ProgressPayload{RunID: ids[2], Message: "third"})

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		runs := service.ConnectionPayload()["runs"].([]activity.RunState)
		if assert.Len(c, runs, 2) {
			assert.Equal(c, ids[0], runs[0].RunID)
			assert.Equal(c, "first again", runs[0].LastMessage)
			assert.Equal(c, ids[2], runs[1].RunID)
		}
	}, time.Second, 10*time.Millisecond)
}

// readUntil discards messages (such as activity broadcasts) until one
// with the title provided is received, which is decoded in to target.
func readUntil(t *testing.T, conn *gorilla.Conn, title string, target interface{}) {
	for {
		var raw json.RawMessage
		require.NoError(t, conn.ReadJSON(&raw))

		var header struct {
			Title string `json:"title"`
		}
		require.NoError(t, json.Unmarshal(raw, &header))
		if header.Title == title {
			require.NoError(t, json.Unmarshal(raw, target))
			return
		}
	}
}

func Test_Activity_ReplayToConnectingClients(t *testing.T) {
	bus := event.New()
	hub := websocket.New()
	service := activity.New(hub, bus, activity.Config{ReplaySize: 16})
	hub.WithConnectionCallback(service.ConnectionPayload)
	hub.BindCommand("RUN_STATE", service.HandleRunStateCommand)

	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Start(ctx)
	}()
	require.Eventually(t, hub.Running, time.Second, 5*time.Millisecond)
	runService(t, service)

	server := httptest.NewServer(http.HandlerFunc(hub.UpgradeToSocket))
	t.Cleanup(func() {
		cancel()
		<-hubDone
		server.Close()
	})

	runID := uuid.New()
	require.Eventually(t, func() bool {
		bus.Dispatch(event.RunProgressEvent, event.ProgressPayload{RunID: runID, Message: "Still searching"})
		return len(service.ConnectionPayload()["runs"].([]activity.RunState)) == 1
	}, time.Second, 20*time.Millisecond)

	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var welcome struct {
		Title string `json:"title"`
		Body  struct {
			Runs []activity.RunState `json:"runs"`
		} `json:"arguments"`
	}
	readUntil(t, conn, "CONNECTION_ESTABLISHED", &welcome)
	require.Len(t, welcome.Body.Runs, 1)
	assert.Equal(t, runID, welcome.Body.Runs[0].RunID)
	assert.Equal(t, "Still searching", welcome.Body.Runs[0].LastMessage)

	t.Run("known run", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(websocket.SocketMessage{
			Title: "RUN_STATE", Id: 1, Type: websocket.Command,
			Body: map[string]interface{}{"runId": runID.String()},
		}))

		var reply struct {
			Title string `json:"title"`
			Id    int    `json:"id"`
			Body  struct {
				Run activity.RunState `json:"run"`
			} `json:"arguments"`
		}
		readUntil(t, conn, "COMMAND_SUCCESS", &reply)
		assert.Equal(t, 1, reply.Id)
		assert.Equal(t, runID, reply.Body.Run.RunID)
	})

	t.Run("unknown run", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(websocket.SocketMessage{
			Title: "RUN_STATE", Id: 2, Type: websocket.Command,
			Body: map[string]interface{}{"runId": uuid.NewString()},
		}))

		var reply websocket.SocketMessage
		readUntil(t, conn, "COMMAND_FAILURE", &reply)
		assert.Equal(t, 2, reply.Id)
	})
}
