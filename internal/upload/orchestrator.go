// Package upload drives one file through its full upload lifecycle, plain or
// encrypted, publishing state and progress along the way.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/diodelink/diodelink/internal/api"
	"github.com/diodelink/diodelink/internal/chunker"
	"github.com/diodelink/diodelink/internal/encryption"
	"github.com/diodelink/diodelink/internal/events"
	"github.com/diodelink/diodelink/internal/logging"
	"github.com/diodelink/diodelink/internal/transport"
)

// State is the upload lifecycle state.
type State string

const (
	StateValidating   State = "validating"
	StateInitiating   State = "initiating"
	StateTransferring State = "transferring"
	StateFinalizing   State = "finalizing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateAborted      State = "aborted"
)

// ErrFileTooLarge is returned when a file fails size validation. No network
// request is made for such a file.
var ErrFileTooLarge = errors.New("file exceeds the maximum transferable size")

// SizeError reports the offending size alongside the configured limit.
type SizeError struct {
	Size int64
	Max  int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("file size %d is outside the accepted range (0, %d]", e.Size, e.Max)
}

func (e *SizeError) Is(target error) bool {
	return target == ErrFileTooLarge
}

// Target is one file to upload. Source must support random access so the
// plain path can rebuild its body for retransmission.
type Target struct {
	Name   string
	Size   int64
	Source io.ReaderAt
}

// Result summarizes one finished upload.
type Result struct {
	UploadID     string
	State        State
	Transferable *api.Transferable
}

// Orchestrator runs uploads against the gateway.
type Orchestrator struct {
	api       *api.Client
	recipient *encryption.Recipient
	maxSize   int64
	bus       *events.Bus
	log       *logging.Logger
}

// New creates an orchestrator. The recipient may be nil when only plain
// uploads are performed.
func New(apiClient *api.Client, recipient *encryption.Recipient, maxSize int64, bus *events.Bus, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		api:       apiClient,
		recipient: recipient,
		maxSize:   maxSize,
		bus:       bus,
		log:       log,
	}
}

// Upload runs one file through validation, transfer and finalization.
// onProgress, when non-nil, receives percentages in [0, 100]; it reaches 100
// only once the gateway has confirmed the whole file.
func (o *Orchestrator) Upload(ctx context.Context, target Target, encrypted bool, onProgress func(int)) (*Result, error) {
	res := &Result{UploadID: uuid.NewString()}

	report := func(percent int) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		o.publish(events.EventUploadProgress, res, target, percent, nil)
		if onProgress != nil {
			onProgress(percent)
		}
	}

	o.setState(res, target, StateValidating)
	if err := o.validate(target); err != nil {
		o.setState(res, target, StateFailed)
		o.publish(events.EventUploadFailed, res, target, 0, err)
		return res, err
	}

	var (
		done *api.Transferable
		err  error
	)
	if encrypted {
		done, err = o.encryptedUpload(ctx, res, target, report)
	} else {
		done, err = o.plainUpload(ctx, res, target, report)
	}
	if err != nil {
		if transport.IsCancellation(err) {
			o.setState(res, target, StateAborted)
			o.publish(events.EventUploadAborted, res, target, 0, err)
		} else {
			o.setState(res, target, StateFailed)
			o.publish(events.EventUploadFailed, res, target, 0, err)
		}
		return res, err
	}

	res.Transferable = done
	report(100)
	o.setState(res, target, StateCompleted)
	o.publish(events.EventUploadCompleted, res, target, 100, nil)
	return res, nil
}

// validate rejects empty and oversized files before any request is made.
func (o *Orchestrator) validate(target Target) error {
	if target.Size <= 0 || target.Size > o.maxSize {
		return &SizeError{Size: target.Size, Max: o.maxSize}
	}
	return nil
}

// plainUpload streams the file in a single request. Progress is derived from
// bytes handed to the HTTP client.
func (o *Orchestrator) plainUpload(ctx context.Context, res *Result, target Target, report func(int)) (*api.Transferable, error) {
	o.setState(res, target, StateTransferring)
	body := func() (io.Reader, error) {
		section := io.NewSectionReader(target.Source, 0, target.Size)
		return newProgressReader(section, target.Size, report), nil
	}
	return o.api.CreatePlainTransferable(ctx, target.Name, target.Size, body)
}

// encryptedUpload opens an encryption stream and a multipart session, then
// sends one sealed chunk per server-dictated part. Chunk order is the stream
// order; nothing here may retransmit or reorder.
func (o *Orchestrator) encryptedUpload(ctx context.Context, res *Result, target Target, report func(int)) (*api.Transferable, error) {
	if o.recipient == nil {
		return nil, fmt.Errorf("no recipient key configured for encrypted upload")
	}

	o.setState(res, target, StateInitiating)
	up, err := o.api.InitMultipartUpload(ctx, target.Name)
	if err != nil {
		return nil, err
	}
	if up.PartSize <= 0 {
		return nil, fmt.Errorf("gateway returned invalid part size %d", up.PartSize)
	}

	session, err := encryption.NewSession(o.recipient)
	if err != nil {
		return nil, err
	}
	seq, err := chunker.New(target.Size, up.PartSize)
	if err != nil {
		return nil, err
	}

	o.setState(res, target, StateTransferring)
	total := seq.Count()
	completion := &api.MultipartCompletion{PartsCount: total}
	buf := make([]byte, up.PartSize)

	for seq.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, _ := seq.Next()

		// Progress counts chunks handed to the transport, so it reports
		// before the send and can only reach 100 at finalize.
		report(int((chunk.Index*100 + total - 1) / total))

		plain := buf[:chunk.Len()]
		if _, err := io.ReadFull(io.NewSectionReader(target.Source, chunk.Start, chunk.Len()), plain); err != nil {
			return nil, fmt.Errorf("failed to read chunk %d: %w", chunk.Index, err)
		}
		sealed, err := session.EncryptChunk(plain)
		if err != nil {
			return nil, err
		}

		if chunk.Index == 0 {
			completion.MainPartSize = int64(len(sealed))
		}
		completion.LastPartSize = int64(len(sealed))

		if err := o.api.SendFilePart(ctx, up, sealed); err != nil {
			return nil, err
		}
	}

	completion.EncryptedSize = completion.LastPartSize + (total-1)*completion.MainPartSize
	completion.Header = session.EncodedHeader()
	if completion.WrappedKey, err = session.WrapKey(); err != nil {
		return nil, err
	}

	o.setState(res, target, StateFinalizing)
	return o.api.FinalizeMultipartUpload(ctx, up, completion)
}

func (o *Orchestrator) setState(res *Result, target Target, state State) {
	res.State = state
	if o.log != nil {
		o.log.Debug().
			Str("upload_id", res.UploadID).
			Str("name", target.Name).
			Str("state", string(state)).
			Msg("upload state change")
	}
	o.publish(events.EventUploadStateChange, res, target, -1, nil)
}

func (o *Orchestrator) publish(eventType events.EventType, res *Result, target Target, progress int, err error) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(&events.UploadEvent{
		BaseEvent: events.BaseEvent{EventType: eventType, Time: time.Now()},
		UploadID:  res.UploadID,
		Name:      target.Name,
		Size:      target.Size,
		State:     string(res.State),
		Progress:  progress,
		Err:       err,
	})
}
