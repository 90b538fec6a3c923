package world

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"

	"github.com/bzfsd/bzfsd/internal/protocol"
)

const (
	mapVersion = 1

	codeHeader  uint16 = 'h'<<8 | 'e'
	codeBase    uint16 = 'b'<<8 | 'a'
	codeBox     uint16 = 'b'<<8 | 'x'
	codePyramid uint16 = 'p'<<8 | 'y'
	codeEnd     uint16 = 'e'<<8 | 'd'

	headerBodyLen   = 2 + 4 + 2*4 + 4*2 + 2*2 + 4
	baseBodyLen     = 2 + 12 + 4 + 4 + 4 + 12
	obstacleBodyLen = 12 + 4 + 12

	// epochOffset locates the time-of-day field inside the blob.
	epochOffset = 4 + headerBodyLen - 4
)

// Header carries the game parameters clients read from the world blob.
type Header struct {
	GameStyle    uint16
	MaxPlayers   uint16
	MaxShots     uint16
	NumFlags     uint16
	LinearAccel  float32
	AngularAccel float32
	ShakeTimeout uint16
	ShakeWins    uint16
	// IncludeBases adds the team bases, as the capture-the-flag style
	// requires.
	IncludeBases bool
}

// Pack serializes the world with h and recomputes the digest.
func (w *World) Pack(h Header) {
	pw := protocol.NewWriter(512)
	pw.U16(headerBodyLen).U16(codeHeader).U16(mapVersion).F32(w.size)
	pw.U16(h.GameStyle).U16(h.MaxPlayers).U16(h.MaxShots).U16(h.NumFlags)
	pw.F32(h.LinearAccel).F32(h.AngularAccel).U16(h.ShakeTimeout).U16(h.ShakeWins)
	pw.U32(0)

	if h.IncludeBases {
		for t, b := range w.bases {
			if b == nil {
				continue
			}
			pw.U16(baseBodyLen).U16(codeBase).U16(uint16(t))
			pw.Vec(b.Pos).F32(b.Rotation).F32(b.Size[0]).F32(b.Size[1]).Vec(b.Safety)
		}
	}
	for _, o := range w.obstacles {
		var c uint16
		switch o.Kind {
		case InBox:
			c = codeBox
		case InPyramid:
			c = codePyramid
		default:
			continue
		}
		pw.U16(obstacleBodyLen).U16(c).Vec(o.Pos).F32(o.Rotation).Vec(o.Size)
	}
	pw.U16(0).U16(codeEnd)

	w.blob = pw.Bytes()
	sum := md5.Sum(w.blob)
	w.digest = "p" + hex.EncodeToString(sum[:])
}

// StampEpoch writes the current time of day into the blob header, as done
// when a client starts a fresh download.
func (w *World) StampEpoch(unix uint32) {
	if len(w.blob) >= epochOffset+4 {
		binary.BigEndian.PutUint32(w.blob[epochOffset:], unix)
	}
}

// ChunkSize is the largest slice of the blob that fits in one reply.
const ChunkSize = protocol.MaxPacketLen - protocol.HeaderLen - 4

// Chunk returns the reply to a download request at offset ptr. Remaining
// counts the bytes from ptr to the end, and is zero once the reply holds
// the final piece.
func Chunk(blob []byte, ptr uint32) protocol.WorldChunk {
	total := uint32(len(blob))
	size := uint32(ChunkSize)
	left := total - ptr
	switch {
	case ptr >= total:
		size, left = 0, 0
	case ptr+size >= total:
		size, left = total-ptr, 0
	}
	if size == 0 {
		return protocol.WorldChunk{Remaining: left}
	}
	return protocol.WorldChunk{Remaining: left, Data: blob[ptr : ptr+size]}
}
