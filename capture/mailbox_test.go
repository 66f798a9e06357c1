package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

func testBitmap(seq uint64) *media.Bitmap {
	return &media.Bitmap{
		Data:   make([]byte, 16),
		Width:  2,
		Height: 2,
		Stride: 8,
		Seq:    seq,
	}
}

func TestMailboxPutTake(t *testing.T) {
	t.Parallel()
	m := NewMailbox()

	m.Put(testBitmap(7))
	bm, err := m.Take(context.Background())
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if bm.Seq != 7 {
		t.Errorf("Take() seq = %d, want 7", bm.Seq)
	}
}

func TestMailboxOverwriteCountsDrop(t *testing.T) {
	t.Parallel()
	m := NewMailbox()

	m.Put(testBitmap(1))
	m.Put(testBitmap(2))

	bm, err := m.Take(context.Background())
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if bm.Seq != 2 {
		t.Errorf("Take() seq = %d, want the freshest frame 2", bm.Seq)
	}
	if got := m.Drops(); got != 1 {
		t.Errorf("Drops() = %d, want 1", got)
	}
}

func TestMailboxTakeBlocksUntilPut(t *testing.T) {
	t.Parallel()
	m := NewMailbox()

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Put(testBitmap(3))
	}()

	bm, err := m.Take(context.Background())
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if bm.Seq != 3 {
		t.Errorf("Take() seq = %d, want 3", bm.Seq)
	}
}

func TestMailboxTakeHonorsContext(t *testing.T) {
	t.Parallel()
	m := NewMailbox()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := m.Take(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Take() error = %v, want context.Canceled", err)
	}
}

func TestMailboxCloseUnblocksTake(t *testing.T) {
	t.Parallel()
	m := NewMailbox()

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Close()
	}()

	if _, err := m.Take(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Take() error = %v, want ErrClosed", err)
	}
}

func TestMailboxPutAfterCloseIsDropped(t *testing.T) {
	t.Parallel()
	m := NewMailbox()

	m.Close()
	m.Put(testBitmap(9))

	if _, err := m.Take(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Take() error = %v, want ErrClosed", err)
	}
}
