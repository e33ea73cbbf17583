package sdh

import (
	"context"
	"hash/crc32"

	"github.com/golang/glog"

	"github.com/robotalks/gos.go/pkg/ipl"
)

// Caller sends a framed request and returns the acknowledgement payload.
// ipl.Client implements it.
type Caller interface {
	Do(ctx context.Context, id uint32, payload []byte) ([]byte, error)
}

// Client issues typed store requests over a Caller.
type Client struct {
	Caller Caller
	// ChunkRetries is the number of times a chunk rejected with CRC_ERR is resent.
	ChunkRetries int
}

// NewClient creates a Client.
func NewClient(caller Caller) *Client {
	return &Client{Caller: caller, ChunkRetries: 3}
}

// Call sends req and decodes the response.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	msg := EncodeRequest(req)
	reply, err := c.Caller.Do(ctx, msg.ID, msg.Payload)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(&ipl.Message{ID: ipl.AckID(msg.ID), Payload: reply})
}

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	resp, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if r := resp.ResultCode(); r != ResultOK {
		return resp, &ResultError{MessageID: req.MessageID(), Result: r}
	}
	return resp, nil
}

// Num returns the number of binaries.
func (c *Client) Num(ctx context.Context) (int, error) {
	resp, err := c.call(ctx, NumRequest{})
	if err != nil {
		return 0, err
	}
	return int(resp.(NumResponse).Count), nil
}

// Info returns the descriptor at index.
func (c *Client) Info(ctx context.Context, index uint16) (BinaryDescriptor, error) {
	resp, err := c.call(ctx, InfoRequest{Index: index})
	if err != nil {
		return BinaryDescriptor{}, err
	}
	return resp.(InfoResponse).Descriptor, nil
}

// List returns all descriptors.
func (c *Client) List(ctx context.Context) ([]BinaryDescriptor, error) {
	n, err := c.Num(ctx)
	if err != nil {
		return nil, err
	}
	descs := make([]BinaryDescriptor, 0, n)
	for i := 0; i < n; i++ {
		d, err := c.Info(ctx, uint16(i))
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}

// Download starts a download.
func (c *Client) Download(ctx context.Context, desc BinaryDescriptor) (DownloadResponse, error) {
	resp, err := c.call(ctx, DownloadRequest{Descriptor: desc})
	if err != nil {
		return DownloadResponse{}, err
	}
	return resp.(DownloadResponse), nil
}

// Chunk sends one chunk with its CRC-32.
func (c *Client) Chunk(ctx context.Context, index uint16, data []byte) error {
	_, err := c.call(ctx, ChunkRequest{Index: index, HasCRC: true, CRC: crc32.ChecksumIEEE(data), Data: data})
	return err
}

// Install requests installation of the binary at index.
func (c *Client) Install(ctx context.Context, index uint16) error {
	_, err := c.call(ctx, InstallRequest{Index: index})
	return err
}

// Erase removes the binary at index.
func (c *Client) Erase(ctx context.Context, index uint16, defragment bool) error {
	_, err := c.call(ctx, EraseRequest{Index: index, Defragment: defragment})
	return err
}

// Abort cancels the download in progress.
func (c *Client) Abort(ctx context.Context) error {
	_, err := c.call(ctx, AbortRequest{})
	return err
}

// ProgressFunc reports upload progress.
type ProgressFunc func(sent, total int)

// Upload stores image as a new binary. The download is aborted when a chunk
// fails.
func (c *Client) Upload(ctx context.Context, name string, startAddress uint32, image []byte, progress ProgressFunc) (BinaryDescriptor, error) {
	desc := BinaryDescriptor{
		Name: name,
		Info: BinaryInfo{
			StartAddress: startAddress,
			Size:         uint32(len(image)),
			CRC32:        crc32.ChecksumIEEE(image),
		},
	}
	dl, err := c.Download(ctx, desc)
	if err != nil {
		return desc, err
	}
	desc.StorageOffset = dl.StorageOffset
	for i := 0; i < int(dl.NumChunks); i++ {
		start := i * int(dl.ChunkSize)
		end := start + int(dl.ChunkSize)
		if end > len(image) {
			end = len(image)
		}
		if err = c.sendChunk(ctx, uint16(i), image[start:end]); err != nil {
			if i < int(dl.NumChunks)-1 {
				if abortErr := c.Abort(ctx); abortErr != nil {
					glog.Warningf("sdh: abort upload of %q: %v", name, abortErr)
				}
			}
			return desc, err
		}
		if progress != nil {
			progress(end, len(image))
		}
	}
	return desc, nil
}

func (c *Client) sendChunk(ctx context.Context, index uint16, data []byte) (err error) {
	for attempt := 0; attempt <= c.ChunkRetries; attempt++ {
		err = c.Chunk(ctx, index, data)
		if re, ok := err.(*ResultError); !ok || re.Result != ResultCRCErr {
			return err
		}
		glog.Warningf("sdh: chunk %d rejected with CRC_ERR, resending", index)
	}
	return err
}
