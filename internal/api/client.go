package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/mirage/internal/preview"
	"github.com/andresmejia3/mirage/internal/safety"
	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	sendBuffer  = 256
	queueBuffer = 64
)

// Client is one websocket connection and the preview session it drives.
type Client struct {
	ID    string
	Conn  *websocket.Conn
	Send  chan Message
	ctrl  *preview.Controller
	start preview.StartFunc

	queue      chan Command
	done       chan struct{}
	doneOnce   sync.Once
	writeMu    sync.Mutex
	inflight   sync.WaitGroup
	terminated atomic.Bool
}

func newClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:    id,
		Conn:  conn,
		Send:  make(chan Message, sendBuffer),
		queue: make(chan Command, queueBuffer),
		done:  make(chan struct{}),
	}
}

// push queues msg for the write pump. Messages for a closed or saturated
// connection are dropped.
func (c *Client) push(t MessageType, payload interface{}) {
	msg := Message{Type: t, SessionID: c.ID, Payload: payload}
	select {
	case <-c.done:
	case c.Send <- msg:
	default:
		fmt.Fprintf(os.Stderr, "⚠️  Session %s send buffer full, dropping %s\n", c.ID, t)
	}
}

func (c *Client) close() {
	c.doneOnce.Do(func() { close(c.done) })
}

// wait blocks until the command pump and every running start command have returned.
func (c *Client) wait() {
	c.inflight.Wait()
	c.close()
}

// writeNow writes msg synchronously, bypassing the send queue.
func (c *Client) writeNow(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(msg)
}

// terminate ends this session only: the client is told why and the connection
// is closed, which unwinds the read and command pumps.
func (c *Client) terminate(err error) {
	if !c.terminated.CompareAndSwap(false, true) {
		return
	}
	fmt.Fprintf(os.Stderr, "🛑 Session %s terminated: %v\n", c.ID, err)
	c.writeNow(Message{Type: MessageTerminated, SessionID: c.ID, Payload: TextPayload{Text: err.Error()}})
	c.Conn.Close()
}

// ReadPump decodes commands into the queue until the connection drops.
func (c *Client) ReadPump() {
	defer close(c.queue)
	defer c.Conn.Close()
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.terminated.Load() {
				fmt.Fprintf(os.Stderr, "⚠️  Session %s read error: %v\n", c.ID, err)
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.push(MessageError, TextPayload{Text: "malformed command: " + err.Error()})
			continue
		}
		c.queue <- cmd
	}
}

// CommandPump applies queued commands in arrival order. Navigation updates
// state immediately but only renders once no further command is waiting, so a
// burst of steps renders its final frame alone.
func (c *Client) CommandPump(ctx context.Context) {
	pending := false
	for cmd := range c.queue {
		if c.terminated.Load() || ctx.Err() != nil {
			continue
		}
		if c.handle(ctx, cmd) {
			pending = true
		}
		if pending && len(c.queue) == 0 && !c.terminated.Load() {
			pending = false
			c.report(c.ctrl.RenderCurrent(ctx))
		}
	}
}

// handle applies one command. It reports whether a render of the current
// frame is owed.
func (c *Client) handle(ctx context.Context, cmd Command) bool {
	var err error
	switch cmd.Type {
	case CommandSource:
		err = c.thumbnail(preview.SlotSource, func() (image.Image, error) { return c.ctrl.SelectSource(ctx, cmd.Path) })
	case CommandTarget:
		err = c.thumbnail(preview.SlotTarget, func() (image.Image, error) { return c.ctrl.SelectTarget(ctx, cmd.Path) })
	case CommandOutput:
		err = c.ctrl.SelectOutput(ctx, cmd.Path, c.startAsync)
	case CommandToggle:
		err = c.ctrl.Toggle(ctx)
	case CommandStepFrame:
		return c.ctrl.MoveFrame(cmd.Delta)
	case CommandStepFace:
		return c.ctrl.MoveReference(cmd.Delta)
	case CommandSeek:
		return c.ctrl.SeekFrame(cmd.Frame)
	case CommandState:
		c.push(MessageState, statePayload(c.ctrl.State()))
	case CommandRecent:
		slot := preview.Slot(cmd.Slot)
		c.push(MessageRecent, RecentPayload{Slot: cmd.Slot, Dir: c.ctrl.RecentDirectory(ctx, slot)})
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}
	c.report(err)
	return false
}

// startAsync runs the start collaborator off the command pump so a long
// export does not stall the preview.
func (c *Client) startAsync(ctx context.Context, sel preview.Selection) error {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if c.start != nil {
			if err := c.start(ctx, sel); err != nil {
				c.report(err)
				return
			}
		}
		c.push(MessageStarted, TextPayload{Text: sel.Output})
	}()
	return nil
}

func (c *Client) report(err error) {
	if err != nil && !errors.Is(err, context.Canceled) && !c.terminated.Load() {
		c.push(MessageError, TextPayload{Text: describe(err)})
	}
}

func (c *Client) thumbnail(slot preview.Slot, sel func() (image.Image, error)) error {
	img, err := sel()
	if err != nil {
		return err
	}
	encoded, err := encodePNG(img)
	if err != nil {
		return err
	}
	c.push(MessageThumbnail, ThumbnailPayload{Slot: string(slot), Image: encoded})
	return nil
}

func describe(err error) string {
	var v *safety.PolicyViolation
	if errors.As(err, &v) {
		return "blocked: " + v.Error()
	}
	return err.Error()
}

func statePayload(s preview.State) StatePayload {
	return StatePayload{
		Visibility:     s.Visibility.String(),
		CurrentFrame:   s.CurrentFrame,
		TotalFrames:    s.TotalFrames,
		ReferenceFrame: s.Anchor.FrameNumber,
		ReferencePos:   s.Anchor.Position,
		HasReference:   s.HasReference,
		Source:         s.Source,
		Target:         s.Target,
		Output:         s.Output,
	}
}

func (c *Client) display() preview.Display {
	return &socketDisplay{client: c}
}

// socketDisplay turns controller output into pushed messages.
type socketDisplay struct {
	client *Client
}

func (d *socketDisplay) ShowPreview(frameNumber int, img image.Image) {
	encoded, err := encodePNG(img)
	if err != nil {
		d.client.push(MessageError, TextPayload{Text: err.Error()})
		return
	}
	d.client.push(MessagePreview, PreviewPayload{Frame: frameNumber, Image: encoded})
}

func (d *socketDisplay) ShowRange(min, max int) {
	d.client.push(MessageRange, RangePayload{Min: min, Max: max})
}

func (d *socketDisplay) HideRange() {
	d.client.push(MessageRangeHide, nil)
}

func (d *socketDisplay) ShowStatus(text string) {
	d.client.push(MessageStatus, TextPayload{Text: text})
}

func (d *socketDisplay) ShowVisibility(v preview.Visibility) {
	d.client.push(MessageVisibility, TextPayload{Text: v.String()})
}
