package worker

import (
	"time"
)

// Drop reasons passed to Observer.FrameDropped.
const (
	DropHandler  = "handler"
	DropTooLarge = "too_large"
)

// Session describes one run of the loop over one stream.
type Session struct {
	ID        string
	Transport string
	Remote    string
	StartedAt time.Time
}

// Exchange is one request frame and the response written for it.
type Exchange struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Transport  string        `json:"transport"`
	Seq        uint64        `json:"seq"`
	Request    []byte        `json:"request"`
	Response   []byte        `json:"response"`
	ReceivedAt time.Time     `json:"received_at"`
	Duration   time.Duration `json:"duration"`
}

// Observer is notified of session events. Methods are called from the
// session's loop goroutine; an Observer shared between sessions must be safe
// for concurrent use. Observers must not block.
type Observer interface {
	SessionStarted(s Session)
	SessionEnded(s Session, err error)
	ExchangeCompleted(s Session, ex Exchange)
	FrameDropped(s Session, reason string, err error)
	ReadRetried(s Session, err error)
}

// BaseObserver implements Observer with no-ops. Embed it to implement only
// the callbacks you need.
type BaseObserver struct{}

func (BaseObserver) SessionStarted(Session) {}
func (BaseObserver) SessionEnded(Session, error) {}
func (BaseObserver) ExchangeCompleted(Session, Exchange) {}
func (BaseObserver) FrameDropped(Session, string, error) {}
func (BaseObserver) ReadRetried(Session, error) {}

// Observers fans every event out to each observer in order.
type Observers []Observer

func (o Observers) SessionStarted(s Session) {
	for _, obs := range o {
		obs.SessionStarted(s)
	}
}

func (o Observers) SessionEnded(s Session, err error) {
	for _, obs := range o {
		obs.SessionEnded(s, err)
	}
}

func (o Observers) ExchangeCompleted(s Session, ex Exchange) {
	for _, obs := range o {
		obs.ExchangeCompleted(s, ex)
	}
}

func (o Observers) FrameDropped(s Session, reason string, err error) {
	for _, obs := range o {
		obs.FrameDropped(s, reason, err)
	}
}

func (o Observers) ReadRetried(s Session, err error) {
	for _, obs := range o {
		obs.ReadRetried(s, err)
	}
}
