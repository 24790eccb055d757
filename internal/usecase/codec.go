package usecase

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// payloadCodec stores cached summaries as zstd-compressed JSON.
type payloadCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newPayloadCodec() (*payloadCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return &payloadCodec{encoder: encoder, decoder: decoder}, nil
}

func (c *payloadCodec) encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *payloadCodec) decode(data []byte, v any) error {
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress cached payload: %w", err)
	}
	return json.Unmarshal(raw, v)
}
