package wsbridge

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dep2p/go-xroute/internal/core/topology"
)

// frame websocket 上的二进制帧（msgpack）
//
// 客户端发往 hub 时 Node/Instance 是目的；hub 发往客户端时
// Origin/ExtensionID/From 是 hub 报告的发送方身份。
type frame struct {
	Node     topology.NodeName `msgpack:"n,omitempty"`
	Instance topology.Instance `msgpack:"i"`
	Channel  string            `msgpack:"c"`
	Data     []byte            `msgpack:"d"`

	Origin      string            `msgpack:"o,omitempty"`
	ExtensionID string            `msgpack:"x,omitempty"`
	From        topology.Instance `msgpack:"f"`
}

func encodeFrame(f *frame) ([]byte, error) {
	data, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: encode frame: %w", err)
	}
	return data, nil
}

func decodeFrame(data []byte) (*frame, error) {
	f := &frame{}
	if err := msgpack.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return f, nil
}
