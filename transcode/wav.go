package transcode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	wavFormatPCM        = 0x0001
	wavFormatIEEEFloat  = 0x0003
	wavFormatExtensible = 0xFFFE
)

// ErrNotWAV is returned by DecodeWAV when the input is not a RIFF/WAVE container.
var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// wavFormat holds the fields of the "fmt " sub-chunk that decoding needs.
type wavFormat struct {
	Format        uint16
	Channels      int
	SampleRate    int
	BlockAlign    int
	BitsPerSample int
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV parses a RIFF/WAVE file holding integer PCM (8/16/24/32 bit) or
// IEEE float (32/64 bit) samples and downmixes it to mono by averaging channels.
// Sample values are scaled to [-1, 1]. No resampling is done.
func DecodeWAV(data []byte) (*AudioData, error) {
	if !IsWAV(data) {
		return nil, ErrNotWAV
	}

	var (
		format  *wavFormat
		payload []byte
	)

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(data) && payload == nil {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := data[offset+8:]
		if chunkSize < len(body) {
			body = body[:chunkSize]
		}

		switch chunkID {
		case "fmt ":
			f, err := parseWAVFormat(body)
			if err != nil {
				return nil, err
			}
			format = f
		case "data":
			if format == nil {
				return nil, errors.New("wav: data chunk before fmt chunk")
			}
			// Truncated files keep whatever samples are present.
			payload = body
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}

	if format == nil {
		return nil, errors.New("wav: missing fmt chunk")
	}
	if payload == nil {
		return nil, errors.New("wav: missing data chunk")
	}

	samples, err := decodeWAVSamples(payload, format)
	if err != nil {
		return nil, err
	}

	return &AudioData{
		PCM:        samples,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Duration:   samplesDuration(len(samples), format.SampleRate),
		Codec:      "wav",
	}, nil
}

func parseWAVFormat(body []byte) (*wavFormat, error) {
	if len(body) < 16 {
		return nil, fmt.Errorf("wav: fmt chunk too short (%d bytes)", len(body))
	}

	f := &wavFormat{
		Format:        binary.LittleEndian.Uint16(body[0:2]),
		Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
		SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
		BlockAlign:    int(binary.LittleEndian.Uint16(body[12:14])),
		BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
	}

	// WAVE_FORMAT_EXTENSIBLE carries the real format code in the first two
	// bytes of the sub-format GUID.
	if f.Format == wavFormatExtensible {
		if len(body) < 26 {
			return nil, errors.New("wav: extensible fmt chunk too short")
		}
		f.Format = binary.LittleEndian.Uint16(body[24:26])
	}

	if f.Channels <= 0 {
		return nil, fmt.Errorf("wav: invalid channel count %d", f.Channels)
	}
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid sample rate %d", f.SampleRate)
	}

	width := f.BitsPerSample / 8
	if f.BlockAlign < width*f.Channels {
		f.BlockAlign = width * f.Channels
	}

	switch {
	case f.Format == wavFormatPCM && (f.BitsPerSample == 8 || f.BitsPerSample == 16 || f.BitsPerSample == 24 || f.BitsPerSample == 32):
	case f.Format == wavFormatIEEEFloat && (f.BitsPerSample == 32 || f.BitsPerSample == 64):
	default:
		return nil, fmt.Errorf("wav: unsupported format %#04x with %d bits per sample", f.Format, f.BitsPerSample)
	}

	return f, nil
}

func decodeWAVSamples(payload []byte, f *wavFormat) ([]float64, error) {
	width := f.BitsPerSample / 8
	frames := len(payload) / f.BlockAlign
	samples := make([]float64, frames)

	for i := range frames {
		frame := payload[i*f.BlockAlign:]
		sum := 0.0
		for c := range f.Channels {
			sum += decodeWAVSample(frame[c*width:c*width+width], f)
		}
		samples[i] = sum / float64(f.Channels)
	}

	return samples, nil
}

func decodeWAVSample(b []byte, f *wavFormat) float64 {
	if f.Format == wavFormatIEEEFloat {
		if f.BitsPerSample == 64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}

	switch f.BitsPerSample {
	case 8:
		// 8-bit PCM is unsigned
		return (float64(b[0]) - 128) / 128
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float64(v) / 8388608
	default:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	}
}

// EncodeWAV writes mono samples as a 16-bit PCM RIFF/WAVE stream. Samples
// outside [-1, 1] are clipped.
func EncodeWAV(w io.Writer, samples []float64, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("wav: invalid sample rate %d", sampleRate)
	}

	const bps = 16
	dataSize := len(samples) * bps / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))
	header := make([]byte, 44)

	// 44-byte canonical header: RIFF descriptor, PCM fmt chunk, data chunk.
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(header[22:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], bps)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))
	buf.Write(header)

	sample := make([]byte, 2)
	for _, v := range samples {
		v = math.Max(-1, math.Min(1, v))
		binary.LittleEndian.PutUint16(sample, uint16(int16(math.Round(v*32767))))
		buf.Write(sample)
	}

	_, err := w.Write(buf.Bytes())
	return err
}
