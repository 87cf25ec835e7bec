package scanner

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// Decoder turns one scanner's raw stdout into findings. Decoders fill in what
// the format carries (line, severity, rule, message, category when known);
// the runner stamps file and tool afterwards.
type Decoder interface {
	Decode(output []byte) ([]types.Finding, error)
}

// DecoderFunc adapts a function to the Decoder interface
type DecoderFunc func(output []byte) ([]types.Finding, error)

// Decode implements Decoder
func (f DecoderFunc) Decode(output []byte) ([]types.Finding, error) {
	return f(output)
}

var (
	decodersMu sync.RWMutex
	decoders   = map[Format]Decoder{
		FormatSARIF:        DecoderFunc(decodeSARIF),
		FormatBanditJSON:   DecoderFunc(decodeBandit),
		FormatGitleaksJSON: DecoderFunc(decodeGitleaks),
		FormatLine:         DecoderFunc(decodeLine),
	}
)

// RegisterDecoder adds or replaces the decoder for a format
func RegisterDecoder(format Format, d Decoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[format] = d
}

// DecoderFor returns the decoder registered for a format
func DecoderFor(format Format) (Decoder, bool) {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	d, ok := decoders[format]
	return d, ok
}

// Decode runs the decoder for format. Whitespace-only output means no findings.
func Decode(format Format, output []byte) ([]types.Finding, error) {
	if len(bytes.TrimSpace(output)) == 0 {
		return nil, nil
	}
	d, ok := DecoderFor(format)
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for format %q", types.ErrScannerOutputUnparsable, format)
	}
	findings, err := d.Decode(output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrScannerOutputUnparsable, err)
	}
	return findings, nil
}
