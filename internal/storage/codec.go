package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"pushbridge/internal/schedule"
)

// Codec encodes schedule records for backends that store opaque values.
type Codec interface {
	Name() string
	Marshal(m schedule.Model) ([]byte, error)
	Unmarshal(b []byte, m *schedule.Model) error
}

// CodecByName returns "json" (default) or "msgpack".
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return jsonCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown storage codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Marshal(m schedule.Model) ([]byte, error) { return json.Marshal(m) }
func (jsonCodec) Unmarshal(b []byte, m *schedule.Model) error { return json.Unmarshal(b, m) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Marshal(m schedule.Model) ([]byte, error) { return msgpack.Marshal(m) }
func (msgpackCodec) Unmarshal(b []byte, m *schedule.Model) error { return msgpack.Unmarshal(b, m) }
