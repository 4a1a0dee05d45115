// Copyright 2024-2026 Aiku AI

package matrixsink

import (
	"context"
	"sync"

	"github.com/aiku/mattermost-telnet-bridge/pkg/bridge"
	"github.com/aiku/mattermost-telnet-bridge/pkg/connector"
)

// fakeBridge records the calls the room handler makes.
type fakeBridge struct {
	mu sync.Mutex

	sent    []string
	sendErr error

	connectSinks []bridge.ChannelSink
	disconnects  int
	status       bridge.Status
}

var _ connector.BridgeAPI = (*fakeBridge)(nil)

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		status: bridge.Status{State: bridge.StateDisconnected, Endpoint: "mud.local:4000"},
	}
}

func (f *fakeBridge) Connect(_ context.Context, sink bridge.ChannelSink) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectSinks = append(f.connectSinks, sink)
	return true, bridge.MsgConnected
}

func (f *fakeBridge) Disconnect() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return true, bridge.MsgDisconnected
}

func (f *fakeBridge) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeBridge) Status() bridge.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeBridge) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeBridge) Sinks() []bridge.ChannelSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bridge.ChannelSink(nil), f.connectSinks...)
}

func (f *fakeBridge) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}
