// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package codegen

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Binary image container. The layout is deterministic: compiling the same
// module twice yields byte-identical blobs, which the pipeline's determinism
// guarantee depends on.
//
//	magic   "KGB1"
//	arch    uvarint length + bytes
//	buildID 16 bytes, UUIDv5 derived from the code section
//	flags   1 byte (bit 0: flush-to-zero)
//	code    uvarint length + bytes
//
// A bundle wraps several images for different architectures:
//
//	magic  "KGFAT"
//	count  uvarint
//	images uvarint length + image bytes, each

var (
	imageMagic  = []byte("KGB1")
	bundleMagic = []byte("KGFAT")
)

const flagFlushToZero = 1 << 0

// Image is the decoded form of a binary image.
type Image struct {
	Arch        string
	BuildID     uuid.UUID
	FlushToZero bool
	Code        []byte
}

// buildID derives the image's identity from its code section. Content
// addressing keeps compilation reproducible while still giving the runtime
// loader a stable cache key.
func buildID(code []byte) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, code)
}

func writeImage(arch string, flushToZero bool, code []byte) []byte {
	var buf bytes.Buffer
	buf.Write(imageMagic)
	writeBytes(&buf, []byte(arch))
	id := buildID(code)
	buf.Write(id[:])
	var flags byte
	if flushToZero {
		flags |= flagFlushToZero
	}
	buf.WriteByte(flags)
	writeBytes(&buf, code)
	return buf.Bytes()
}

func bundleImages(images [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(bundleMagic)
	writeUvarint(&buf, uint64(len(images)))
	for _, image := range images {
		writeBytes(&buf, image)
	}
	return buf.Bytes()
}

// ParseImage decodes a single binary image.
func ParseImage(blob []byte) (Image, error) {
	r := &reader{data: blob}
	if !r.expect(imageMagic) {
		return Image{}, errors.Errorf("not a kernel binary image")
	}
	arch := r.bytes()
	idBytes := r.take(16)
	flags := r.take(1)
	code := r.bytes()
	if r.err != nil {
		return Image{}, errors.WithMessage(r.err, "truncated binary image")
	}
	img := Image{
		Arch:        string(arch),
		FlushToZero: flags[0]&flagFlushToZero != 0,
		Code:        code,
	}
	copy(img.BuildID[:], idBytes)
	return img, nil
}

// ParseBundle decodes a multi-architecture bundle. A bare image decodes as a
// one-element bundle.
func ParseBundle(blob []byte) ([]Image, error) {
	if bytes.HasPrefix(blob, imageMagic) {
		img, err := ParseImage(blob)
		if err != nil {
			return nil, err
		}
		return []Image{img}, nil
	}
	r := &reader{data: blob}
	if !r.expect(bundleMagic) {
		return nil, errors.Errorf("not a kernel binary bundle")
	}
	count := r.uvarint()
	images := make([]Image, 0, count)
	for i := uint64(0); i < count; i++ {
		img, err := ParseImage(r.bytes())
		if err != nil {
			return nil, errors.WithMessagef(err, "bundle entry %d", i)
		}
		images = append(images, img)
	}
	if r.err != nil {
		return nil, errors.WithMessage(r.err, "truncated bundle")
	}
	return images, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	buf.Write(tmp[:binary.PutUvarint(tmp[:], v)])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

type reader struct {
	data []byte
	err  error
}

func (r *reader) expect(magic []byte) bool {
	if !bytes.HasPrefix(r.data, magic) {
		return false
	}
	r.data = r.data[len(magic):]
	return true
}

func (r *reader) take(n int) []byte {
	if r.err != nil || len(r.data) < n {
		r.fail()
		return make([]byte, n)
	}
	out := r.data[:n]
	r.data = r.data[n:]
	return out
}

func (r *reader) uvarint() uint64 {
	v, n := binary.Uvarint(r.data)
	if n <= 0 {
		r.fail()
		return 0
	}
	r.data = r.data[n:]
	return v
}

func (r *reader) bytes() []byte {
	n := r.uvarint()
	if r.err != nil || uint64(len(r.data)) < n {
		r.fail()
		return nil
	}
	return r.take(int(n))
}

func (r *reader) fail() {
	if r.err == nil {
		r.err = errors.Errorf("unexpected end of data")
	}
	r.data = nil
}
