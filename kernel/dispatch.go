package kernel

import (
	"k8s.io/klog/v2"

	"github.com/gojupyter/kernelclient/wire"
)

// handleFrame implements spec §4.F's dispatch rule. Always called on the
// engine's single dispatch goroutine.
func (e *Engine) handleFrame(data []byte, isText bool) {
	msg, err := wire.Decode(data, isText)
	if err != nil {
		klog.Errorf("kernel: dropping malformed frame: %+v", err)
		return
	}
	if err := wire.Validate(msg); err != nil {
		klog.Errorf("kernel: dropping frame that failed validation: %+v", err)
		return
	}

	parentID := msg.ParentHeader.MsgID
	claimed := false

	if parentID != "" {
		switch msg.Channel {
		case wire.ChannelShell, wire.ChannelControl:
			claimed = e.futures.DeliverReply(parentID, msg.Content)
		case wire.ChannelIOPub:
			isIdle := msg.Header.MsgType == "status" && msg.Content["execution_state"] == "idle"
			claimed = e.futures.DeliverIOPub(parentID, msg, isIdle)
		case wire.ChannelStdin:
			claimed = e.futures.DeliverStdin(parentID, msg)
		}
	}

	if msg.Channel == wire.ChannelIOPub {
		e.handleIOPubBuiltins(msg)
		e.iopubSig.emit(Event{Kind: EventIOPubMessage, Message: msg})
	}

	if !claimed {
		e.unhandledSig.emit(Event{Kind: EventUnhandledMessage, Message: msg})
	}
}

// handleIOPubBuiltins updates engine status on "status" messages and routes
// comm_open/comm_msg/comm_close to the Comm Registry, per spec §4.F.
func (e *Engine) handleIOPubBuiltins(msg wire.Message) {
	switch msg.Header.MsgType {
	case "status":
		state, _ := msg.Content["execution_state"].(string)
		if st, ok := executionStateToStatus(state); ok {
			e.setStatus(st)
		}
		// Status-driven flush (§9 Open Question resolution): drain
		// anything queued while the socket was not Open.
		e.socket.Flush()

	case "comm_open":
		commID, _ := msg.Content["comm_id"].(string)
		targetName, _ := msg.Content["target_name"].(string)
		targetModule, _ := msg.Content["target_module"].(string)
		data, _ := msg.Content["data"].(map[string]interface{})
		e.comms.HandleCommOpen(commID, targetName, targetModule, data)

	case "comm_msg":
		commID, _ := msg.Content["comm_id"].(string)
		data, _ := msg.Content["data"].(map[string]interface{})
		e.comms.HandleCommMsg(commID, data, msg.Metadata)

	case "comm_close":
		commID, _ := msg.Content["comm_id"].(string)
		data, _ := msg.Content["data"].(map[string]interface{})
		e.comms.HandleCommClose(commID, data)
	}
}
