package sdh

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/gos.go/pkg/ipl"
)

func TestRequestCodec(t *testing.T) {
	reqs := []Request{
		NumRequest{},
		InfoRequest{Index: 2},
		DownloadRequest{Descriptor: BinaryDescriptor{
			Name:          "app",
			StorageOffset: 0x200,
			Info:          BinaryInfo{StartAddress: 0x08004000, Size: 10, CRC32: 0x1234},
		}},
		ChunkRequest{Index: 1, HasCRC: true, CRC: 7, Data: []byte{1, 2, 3}},
		InstallRequest{Index: 4},
		EraseRequest{Index: 5, Defragment: true},
		AbortRequest{},
	}
	for _, req := range reqs {
		decoded, err := DecodeRequest(EncodeRequest(req))
		require.NoError(t, err)
		require.Equal(t, req, decoded)
	}
}

func TestResponseLayout(t *testing.T) {
	msg := EncodeResponse(ChunkResponse{Index: 0x0102, Result: ResultCRCErr})
	require.Equal(t, ipl.AckID(MsgBinaryChunk), msg.ID)
	require.Equal(t, []byte{0x02, 0x01, 6}, msg.Payload)

	msg = EncodeResponse(NumResponse{Result: ResultOK, Count: 3})
	require.Equal(t, uint32(0xA301), msg.ID)
	require.Equal(t, []byte{1, 3, 0}, msg.Payload)
}

func TestDecodeMalformed(t *testing.T) {
	cases := []*ipl.Message{
		{ID: MsgBinaryInfo, Payload: []byte{1}},
		{ID: MsgBinaryDownload, Payload: make([]byte, DescriptorSize-1)},
		{ID: MsgBinaryChunk, Payload: make([]byte, 6)},
		{ID: MsgBinaryErase, Payload: []byte{0, 0}},
		{ID: MsgBinaryNum, Payload: []byte{0}},
		{ID: 0x0999},
	}
	for _, msg := range cases {
		_, err := DecodeRequest(msg)
		require.True(t, errors.Is(err, ErrMalformed), "0x%04x", msg.ID)
	}
	_, err := DecodeResponse(&ipl.Message{ID: ipl.AckID(MsgBinaryInfo), Payload: []byte{1, 0, 0}})
	require.True(t, errors.Is(err, ErrMalformed))
}

func TestDescriptorName(t *testing.T) {
	d := BinaryDescriptor{Name: "0123456789012345678901234567890123456789"}
	decoded, err := DecodeDescriptor(d.Encode())
	require.NoError(t, err)
	require.Equal(t, d.Name[:NameSize-1], decoded.Name)
	require.Equal(t, "BINARY_CHUNK_ACK", messageName(ipl.AckID(MsgBinaryChunk)))
	require.Equal(t, "CRC_ERR", ResultCRCErr.String())
	require.Equal(t, "IMAGE_CRC_ERR", ResultImageCRCErr.String())
}
