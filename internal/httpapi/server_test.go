package httpapi

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsamfire/saunasupervisor/internal/bus"
	"github.com/samsamfire/saunasupervisor/internal/snapshot"
)

type fakePoster struct {
	lastKind bus.OperatorCommandKind
	respond  bus.CommandResult
}

func (f *fakePoster) Post(e bus.Event) {
	cmd, ok := e.(bus.OperatorCommand)
	if !ok {
		return
	}
	f.lastKind = cmd.Kind
	if cmd.Reply != nil {
		cmd.Reply <- f.respond
	}
}

func TestHandleCommandReturnsReplyAsJSON(t *testing.T) {
	poster := &fakePoster{respond: bus.CommandResult{Ok: true, Mcb: bus.McbOn}}
	broadcaster := snapshot.New(nil)
	srv := NewServer(poster, broadcaster, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/mcb/on", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Mcb":1`)
	assert.Equal(t, bus.CmdTurnOn, poster.lastKind)
}

func TestHandleCommandTimesOutWhenSupervisorNeverReplies(t *testing.T) {
	poster := &silentPoster{}
	broadcaster := snapshot.New(nil)
	srv := NewServer(poster, broadcaster, nil)
	srv.commandWait = 10 * time.Millisecond

	req := httptest.NewRequest(http.MethodGet, "/api/mcb", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

type silentPoster struct{}

func (silentPoster) Post(e bus.Event) {}

type sseEvent struct {
	name string
	data string
}

// readSSEEvent reads one "event: name\ndata: json\n\n" record.
func readSSEEvent(t *testing.T, reader *bufio.Reader) sseEvent {
	t.Helper()
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(eventLine, "event: "))
	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataLine, "data: "))
	_, err = reader.ReadString('\n') // trailing blank line
	require.NoError(t, err)
	return sseEvent{
		name: strings.TrimSuffix(strings.TrimPrefix(eventLine, "event: "), "\n"),
		data: strings.TrimSuffix(strings.TrimPrefix(dataLine, "data: "), "\n"),
	}
}

func TestEventsStreamSendsConnectedThenCurrentSnapshot(t *testing.T) {
	poster := &fakePoster{}
	broadcaster := snapshot.New(nil)
	broadcaster.Publish(snapshot.Snapshot{Mcb: bus.McbOn, McbSource: "device"})
	srv := NewServer(poster, broadcaster, nil)

	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)

	connected := readSSEEvent(t, reader)
	assert.Equal(t, "connected", connected.name)
	assert.Contains(t, connected.data, `"subscriberId"`)

	mcbStatus := readSSEEvent(t, reader)
	assert.Equal(t, "mcb_status", mcbStatus.name)
	assert.Contains(t, mcbStatus.data, `"status":"on"`)
	assert.Contains(t, mcbStatus.data, `"source":"device"`)
}

func TestEventsStreamOmitsRecordsForAbsentComponents(t *testing.T) {
	poster := &fakePoster{}
	broadcaster := snapshot.New(nil)
	broadcaster.Publish(snapshot.Snapshot{Mcb: bus.McbUnknown})
	srv := NewServer(poster, broadcaster, nil)

	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readSSEEvent(t, reader) // connected
	mcbStatus := readSSEEvent(t, reader)
	assert.Equal(t, "mcb_status", mcbStatus.name)

	// Phases/Temperature/Door/Ventilator/FloorHeating are all nil on a bare
	// snapshot, so mcb_status must be the only record in this publish.
	lineCh := make(chan string, 1)
	go func() {
		line, err := reader.ReadString('\n')
		if err == nil {
			lineCh <- line
		}
	}()
	select {
	case line := <-lineCh:
		t.Fatalf("expected no further records for a snapshot with no populated components, got %q", line)
	case <-time.After(50 * time.Millisecond):
	}
}
