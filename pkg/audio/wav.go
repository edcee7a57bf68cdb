package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// ErrNotWav is returned by ReadWavPCM when the input lacks a RIFF/WAVE
// header.
var ErrNotWav = errors.New("audio: not a RIFF/WAVE file")


func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           
	binary.Write(buf, binary.LittleEndian, uint16(1))            
	binary.Write(buf, binary.LittleEndian, uint16(1))            
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))   
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) 
	binary.Write(buf, binary.LittleEndian, uint16(2))            
	binary.Write(buf, binary.LittleEndian, uint16(16))           

	
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// ReadWavPCM parses a canonical 16-bit PCM RIFF/WAVE file and returns the raw
// PCM payload plus its sample rate, the companion of NewWavBuffer used by the
// session player/analysis tool to re-derive PCM from a recorded sidecar.
func ReadWavPCM(data []byte) (pcm []byte, sampleRate int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotWav
	}

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if body+chunkSize > len(data) {
			return nil, 0, io.ErrUnexpectedEOF
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, ErrNotWav
			}
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
		case "data":
			pcm = data[body : body+chunkSize]
		}

		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}

	if pcm == nil || sampleRate == 0 {
		return nil, 0, ErrNotWav
	}
	return pcm, sampleRate, nil
}
