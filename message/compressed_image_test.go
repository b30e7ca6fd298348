package message

import (
	"io"
	"testing"
	"time"

	"github.com/atolab/shmpubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCompressedImageSize(t *testing.T) {
	img := NewCompressedImage(4*1024*1024, "jpg")
	// 1 tag + 4 length bytes + data, 1 tag + 1 length byte + "jpg"
	assert.Equal(t, 4*1024*1024+5+5, img.Size())
	assert.Equal(t, 4096, img.Size()/1024)
	assert.Len(t, img.Marshal(), img.Size())
	assert.Equal(t, shmpubsub.PROTOBUF, img.Encoding())

	assert.Zero(t, (&CompressedImage{}).Size())
}

func TestCompressedImageRoundTrip(t *testing.T) {
	in := &CompressedImage{
		Timestamp: time.Unix(1700000000, 123456789),
		FrameID:   "camera_front",
		Data:      []byte{1, 2, 3, 0, 255},
		Format:    "png",
	}
	buf := make([]byte, in.Size()+8)
	n, err := in.MarshalTo(buf)
	require.NoError(t, err)
	assert.Equal(t, in.Size(), n)

	out := &CompressedImage{}
	require.NoError(t, out.Unmarshal(buf[:n]))
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	assert.Equal(t, in.FrameID, out.FrameID)
	assert.Equal(t, in.Data, out.Data)
	assert.Equal(t, in.Format, out.Format)
	assert.Equal(t, in.Size(), out.Size())

	// decoded data must not alias the input buffer
	buf[n-len(in.FrameID)-2-len(in.Format)-2-1] = 0x42
	assert.Equal(t, in.Data, out.Data)
}

func TestCompressedImageMarshalToShortBuffer(t *testing.T) {
	img := NewCompressedImage(10, "jpg")
	_, err := img.MarshalTo(make([]byte, img.Size()-1))
	assert.ErrorIs(t, err, io.ErrShortBuffer)
}

func TestCompressedImageUnknownFields(t *testing.T) {
	img := NewCompressedImage(3, "jpg")
	b := protowire.AppendTag(nil, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	b = img.Append(b)
	b = protowire.AppendTag(b, 100, protowire.BytesType)
	b = protowire.AppendString(b, "ignored")

	out := &CompressedImage{}
	require.NoError(t, out.Unmarshal(b))
	assert.Equal(t, img.Data, out.Data)
	assert.Equal(t, "jpg", out.Format)
}

func TestCompressedImageTruncated(t *testing.T) {
	b := NewCompressedImage(16, "jpg").Marshal()
	out := &CompressedImage{}
	assert.Error(t, out.Unmarshal(b[:10]))
}

func TestCompressedImageReuse(t *testing.T) {
	out := &CompressedImage{}
	require.NoError(t, out.Unmarshal(NewCompressedImage(64, "jpg").Marshal()))
	data := out.Data
	require.NoError(t, out.Unmarshal((&CompressedImage{Format: "raw"}).Marshal()))
	assert.Empty(t, out.Data)
	assert.Equal(t, "raw", out.Format)
	assert.Equal(t, cap(data), cap(out.Data))
}
