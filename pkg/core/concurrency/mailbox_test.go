package concurrency

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewBoundedMailbox(t *testing.T) {
	mailbox := NewBoundedMailbox[string](10)

	if mailbox == nil {
		t.Fatal("NewBoundedMailbox() should not return nil")
	}
	if mailbox.Capacity() != 10 {
		t.Errorf("Capacity() = %d, want 10", mailbox.Capacity())
	}

	if got := NewBoundedMailbox[int](0).Capacity(); got != 100 {
		t.Errorf("Capacity() with zero size = %d, want default 100", got)
	}
}

func TestMailbox_Send(t *testing.T) {
	mailbox := NewBoundedMailbox[string](2)

	if err := mailbox.Send("message1"); err != nil {
		t.Errorf("Send() error = %v", err)
	}
	if err := mailbox.Send("message2"); err != nil {
		t.Errorf("Send() error = %v", err)
	}

	if err := mailbox.Send("message3"); !errors.Is(err, ErrMailboxFull) {
		t.Errorf("Send() to full mailbox error = %v, want ErrMailboxFull", err)
	}
}

func TestMailbox_ReceiveOrder(t *testing.T) {
	mailbox := NewBoundedMailbox[int](10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := mailbox.Send(i); err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
	}

	for want := 0; want < 5; want++ {
		got, err := mailbox.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if got != want {
			t.Errorf("Receive() = %d, want %d", got, want)
		}
	}
}

func TestMailbox_SendContext_BlocksUntilSpace(t *testing.T) {
	mailbox := NewBoundedMailbox[string](1)
	ctx := context.Background()

	if err := mailbox.Send("first"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sent := make(chan error, 1)
	go func() {
		sent <- mailbox.SendContext(ctx, "second")
	}()

	select {
	case err := <-sent:
		t.Fatalf("SendContext returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if msg, _ := mailbox.Receive(ctx); msg != "first" {
		t.Fatalf("Receive() = %q, want first", msg)
	}

	select {
	case err := <-sent:
		if err != nil {
			t.Fatalf("SendContext: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SendContext did not unblock")
	}

	if msg, _ := mailbox.Receive(ctx); msg != "second" {
		t.Errorf("Receive() = %q, want second", msg)
	}
}

func TestMailbox_SendContext_Cancelled(t *testing.T) {
	mailbox := NewBoundedMailbox[string](1)
	_ = mailbox.Send("fill")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := mailbox.SendContext(ctx, "blocked"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("SendContext() error = %v, want DeadlineExceeded", err)
	}
}

func TestMailbox_Receive_Cancelled(t *testing.T) {
	mailbox := NewBoundedMailbox[string](1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := mailbox.Receive(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Receive() error = %v, want Canceled", err)
	}
}

func TestMailbox_TryReceive(t *testing.T) {
	mailbox := NewBoundedMailbox[string](10)

	msg, ok, err := mailbox.TryReceive()
	if err != nil {
		t.Errorf("TryReceive() on empty mailbox error = %v", err)
	}
	if ok {
		t.Error("TryReceive() on empty mailbox should return ok=false")
	}
	if msg != "" {
		t.Errorf("TryReceive() on empty mailbox msg = %q, want zero value", msg)
	}

	_ = mailbox.Send("test")
	msg, ok, err = mailbox.TryReceive()
	if err != nil || !ok || msg != "test" {
		t.Errorf("TryReceive() = (%q, %v, %v), want (test, true, nil)", msg, ok, err)
	}
}

func TestMailbox_Close(t *testing.T) {
	mailbox := NewBoundedMailbox[string](10)

	mailbox.Close()
	mailbox.Close() // idempotent

	if !mailbox.IsClosed() {
		t.Error("IsClosed() should return true after Close()")
	}

	if err := mailbox.Send("test"); !errors.Is(err, ErrMailboxClosed) {
		t.Errorf("Send() after close error = %v, want ErrMailboxClosed", err)
	}
	if err := mailbox.SendContext(context.Background(), "test"); !errors.Is(err, ErrMailboxClosed) {
		t.Errorf("SendContext() after close error = %v, want ErrMailboxClosed", err)
	}
	if _, err := mailbox.Receive(context.Background()); !errors.Is(err, ErrMailboxClosed) {
		t.Errorf("Receive() after close error = %v, want ErrMailboxClosed", err)
	}
}

func TestMailbox_CloseUnblocksReceiver(t *testing.T) {
	mailbox := NewBoundedMailbox[string](1)

	done := make(chan error, 1)
	go func() {
		_, err := mailbox.Receive(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	mailbox.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrMailboxClosed) {
			t.Errorf("Receive() error = %v, want ErrMailboxClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive() was not unblocked by Close()")
	}
}

func TestMailbox_Size(t *testing.T) {
	mailbox := NewBoundedMailbox[string](10)

	if mailbox.Size() != 0 {
		t.Errorf("Size() = %d, want 0", mailbox.Size())
	}

	_ = mailbox.Send("msg1")
	_ = mailbox.Send("msg2")
	if mailbox.Size() != 2 {
		t.Errorf("Size() = %d, want 2", mailbox.Size())
	}
}
