package mesh

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ControlLabel is the label of the per-session data channel carrying Hello.
const ControlLabel = "control"

// Hello is sent once over the control channel when it opens.
type Hello struct {
	Username string `msgpack:"username"`
	Version  string `msgpack:"version"`
}

func EncodeHello(h Hello) ([]byte, error) {
	data, err := msgpack.Marshal(&h)
	if err != nil {
		return nil, fmt.Errorf("encode hello: %w", err)
	}
	return data, nil
}

func DecodeHello(data []byte) (Hello, error) {
	var h Hello
	if err := msgpack.Unmarshal(data, &h); err != nil {
		return Hello{}, fmt.Errorf("decode hello: %w", err)
	}
	return h, nil
}
