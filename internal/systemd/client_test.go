package systemd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podstage/podstage/internal/log"
)

type fakeConnection struct {
	started     []string
	stopped     []string
	restarted   []string
	resetFailed []string
	reloaded    int
	closed      int

	jobResult map[string]string
	startErr  error
}

func (f *fakeConnection) result(service string) chan string {
	ch := make(chan string, 1)
	result := "done"
	if f.jobResult != nil {
		if r, ok := f.jobResult[service]; ok {
			result = r
		}
	}
	ch <- result
	return ch
}

func (f *fakeConnection) StartUnit(_ context.Context, service, _ string) (chan string, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, service)
	return f.result(service), nil
}

func (f *fakeConnection) StopUnit(_ context.Context, service, _ string) (chan string, error) {
	f.stopped = append(f.stopped, service)
	return f.result(service), nil
}

func (f *fakeConnection) RestartUnit(_ context.Context, service, _ string) (chan string, error) {
	f.restarted = append(f.restarted, service)
	return f.result(service), nil
}

func (f *fakeConnection) ResetFailedUnit(_ context.Context, service string) error {
	f.resetFailed = append(f.resetFailed, service)
	return nil
}

func (f *fakeConnection) Reload(_ context.Context) error {
	f.reloaded++
	return nil
}

func (f *fakeConnection) Close() error {
	f.closed++
	return nil
}

type fakeFactory struct {
	conn *fakeConnection
	err  error

	userModes []bool
}

func (f *fakeFactory) NewConnection(_ context.Context, userMode bool) (Connection, error) {
	f.userModes = append(f.userModes, userMode)
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

func newTestClient(conn *fakeConnection) (*Client, *fakeFactory) {
	factory := &fakeFactory{conn: conn}
	return NewClient(factory, log.NewLogger(false)), factory
}

func TestStartUnitResetsFailedState(t *testing.T) {
	conn := &fakeConnection{}
	client, _ := newTestClient(conn)

	require.NoError(t, client.StartUnit(context.Background(), "web.service", false))

	assert.Equal(t, []string{"web.service"}, conn.resetFailed)
	assert.Equal(t, []string{"web.service"}, conn.started)
	assert.Positive(t, conn.closed)
}

func TestStartUnitJobFailure(t *testing.T) {
	conn := &fakeConnection{jobResult: map[string]string{"web.service": "failed"}}
	client, _ := newTestClient(conn)

	err := client.StartUnit(context.Background(), "web.service", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestStopUnit(t *testing.T) {
	conn := &fakeConnection{}
	client, _ := newTestClient(conn)

	require.NoError(t, client.StopUnit(context.Background(), "web.service", false))
	assert.Equal(t, []string{"web.service"}, conn.stopped)
}

func TestDaemonReload(t *testing.T) {
	conn := &fakeConnection{}
	client, _ := newTestClient(conn)

	require.NoError(t, client.DaemonReload(context.Background(), false))
	assert.Equal(t, 1, conn.reloaded)
}

func TestScopeSelectsBus(t *testing.T) {
	conn := &fakeConnection{}
	client, factory := newTestClient(conn)

	require.NoError(t, client.DaemonReload(context.Background(), true))
	require.NoError(t, client.StartUnit(context.Background(), "web.service", true))
	require.NoError(t, client.StopUnit(context.Background(), "web.service", false))

	// The per-call scope reaches the connection factory, so user-scoped
	// and system-scoped operations go to their own bus.
	assert.Equal(t, []bool{true, true, false}, factory.userModes)
}

func TestStopUnitsCollectsFailures(t *testing.T) {
	conn := &fakeConnection{jobResult: map[string]string{"bad.service": "timeout"}}
	client, _ := newTestClient(conn)

	err := client.StopUnits(context.Background(), []string{"a.service", "bad.service", "b.service"}, false)
	require.Error(t, err)

	// The failing unit does not strand the rest of the list.
	assert.Equal(t, []string{"a.service", "bad.service", "b.service"}, conn.stopped)
}

func TestStartUnitsAllSucceed(t *testing.T) {
	conn := &fakeConnection{}
	client, _ := newTestClient(conn)

	require.NoError(t, client.StartUnits(context.Background(), []string{"a.service", "b.service"}, false))
	assert.Equal(t, []string{"a.service", "b.service"}, conn.started)
}

func TestConnectionFailurePropagates(t *testing.T) {
	client := NewClient(&fakeFactory{err: errors.New("bus unavailable")}, log.NewLogger(false))

	require.Error(t, client.DaemonReload(context.Background(), false))
	require.Error(t, client.StartUnit(context.Background(), "web.service", false))
}
