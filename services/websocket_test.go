package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IRCHrocks25/KatCon-sub001/database"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signalProjector reports each projection it builds.
type signalProjector struct {
	projected chan string
}

func (p signalProjector) GetVisible(_ context.Context, viewer, taskID string) (TaskView, bool, error) {
	p.projected <- taskID
	return TaskView{Task: database.Task{ID: taskID, Version: 2}, DisplayStatus: database.StatusBacklog}, true, nil
}

// racingLister publishes a change while the snapshot is being listed and
// waits until the subscription has projected it.
type racingLister struct {
	hub       *Hub
	projected chan string
}

func (l racingLister) ListVisible(_ context.Context, viewer string) ([]TaskView, error) {
	l.hub.Publish(ChangeEvent{ID: "e1", TaskID: "t1", Owner: userC, Audience: []string{viewer}})
	select {
	case <-l.projected:
	case <-time.After(2 * time.Second):
	}
	return []TaskView{{Task: database.Task{ID: "t1", Version: 1}, DisplayStatus: database.StatusBacklog}}, nil
}

func TestClient_SnapshotPrecedesPendingUpdates(t *testing.T) {
	projected := make(chan string, 1)
	hub, _ := startHub(t, signalProjector{projected: projected})

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub := hub.Subscribe(userA)
		NewClient(conn, userA, sub, racingLister{hub: hub, projected: projected}).Start()
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var types []string
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var msg WebSocketMessage
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
	}
	assert.Equal(t, []string{"snapshot", "task"}, types)
}
