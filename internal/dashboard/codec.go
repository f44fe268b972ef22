package dashboard

import (
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/fxamacker/cbor/v2"

	"github.com/troppes/strixlog/logstreamer/internal/model"
)

// WebSocket subprotocols a dashboard client may request. Without one the
// session uses JSON.
const (
	SubprotocolJSON = "logstream.json"
	SubprotocolCBOR = "logstream.cbor"
)

// Codec serializes one record into one WebSocket message.
type Codec interface {
	Name() string
	MessageType() websocket.MessageType
	Encode(rec model.LogRecord) ([]byte, error)
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return SubprotocolJSON }
func (jsonCodec) MessageType() websocket.MessageType { return websocket.MessageText }

func (jsonCodec) Encode(rec model.LogRecord) ([]byte, error) {
	return json.Marshal(rec.Wire())
}

// cborCodec uses Core Deterministic Encoding so identical records produce
// identical frames.
type cborCodec struct {
	mode cbor.EncMode
}

func newCBORCodec() cborCodec {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("dashboard: CBOR encoder initialization failed: " + err.Error())
	}
	return cborCodec{mode: mode}
}

func (cborCodec) Name() string                       { return SubprotocolCBOR }
func (cborCodec) MessageType() websocket.MessageType { return websocket.MessageBinary }

func (c cborCodec) Encode(rec model.LogRecord) ([]byte, error) {
	return c.mode.Marshal(rec.Wire())
}

var (
	defaultCodec Codec = jsonCodec{}
	codecs             = map[string]Codec{
		SubprotocolJSON: jsonCodec{},
		SubprotocolCBOR: newCBORCodec(),
	}
)

// CodecFor returns the codec for a negotiated subprotocol, falling back to
// JSON.
func CodecFor(subprotocol string) Codec {
	if c, ok := codecs[subprotocol]; ok {
		return c
	}
	return defaultCodec
}
